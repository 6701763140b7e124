// Package device holds the vendor-reported identity of a phone in
// recovery and the region-profile rewriting rules used to target a
// different retail channel than the one the phone shipped with.
package device

import "fmt"

// Info is everything the vendor command layer collects about a phone
// before it can be validated against the update server (spec §4.D).
type Info struct {
	Device   string
	SN       string
	Version  string
	Codebase string
	Branch   string
	Language string
	Region   string
	RomZone  string
}

func (i Info) String() string {
	return fmt.Sprintf("device=%s version=%s codebase=%s branch=%s region=%s", i.Device, i.Version, i.Codebase, i.Branch, i.Region)
}
