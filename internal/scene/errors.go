package scene

import "errors"

var (
	ErrSceneNotFound = errors.New("scene: not found")
	ErrInvalidScene  = errors.New("scene: invalid")
	ErrInvalidName   = errors.New("scene: invalid name")
	ErrNoEntities    = errors.New("scene: no entities")

	// ErrSceneExists reports two scenes with one id in scenes.yaml.
	ErrSceneExists = errors.New("scene: duplicate id")

	// ErrReadOnly is returned when changing a scene defined in scenes.yaml.
	ErrReadOnly = errors.New("scene: defined in configuration file")
)
