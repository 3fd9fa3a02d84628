// Package sun computes sunrise and sunset for the site location and keeps
// the sun.sun entity current.
//
// The Calculator is used by the automation engine for sun triggers and
// conditions; the Tracker publishes:
//
//	sun.sun  state: above_horizon | below_horizon
//	         attributes: next_rising, next_setting, friendly_name
package sun
