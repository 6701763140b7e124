package device

import (
	"strings"
)

// RegionProfile names a retail channel a ROM validation request can be
// made to impersonate, independent of what the phone actually reports
// (spec supplement, grounded on the original CLI's --profile flag).
type RegionProfile int

const (
	ProfileGlobal RegionProfile = iota
	ProfileEEA
	ProfileIN
	ProfileRU
	ProfileID
	ProfileTR
	ProfileTW
	ProfileCN
)

// ParseRegionProfile accepts the profile's canonical name plus the common
// aliases the original tool recognized.
func ParseRegionProfile(s string) (RegionProfile, bool) {
	switch strings.ToLower(s) {
	case "global", "mi":
		return ProfileGlobal, true
	case "eea", "eu":
		return ProfileEEA, true
	case "in", "india":
		return ProfileIN, true
	case "ru", "russia":
		return ProfileRU, true
	case "id", "indo", "indonesia":
		return ProfileID, true
	case "tr", "turkey":
		return ProfileTR, true
	case "tw", "taiwan":
		return ProfileTW, true
	case "cn", "china":
		return ProfileCN, true
	default:
		return 0, false
	}
}

func (p RegionProfile) deviceName(codename string) string {
	switch p {
	case ProfileEEA:
		return codename + "_eea_global"
	case ProfileIN:
		return codename + "_in_global"
	case ProfileRU:
		return codename + "_ru_global"
	case ProfileID:
		return codename + "_id_global"
	case ProfileTR:
		return codename + "_tr_global"
	case ProfileTW:
		return codename + "_tw_global"
	case ProfileCN:
		return codename
	default:
		return codename + "_global"
	}
}

func (p RegionProfile) versionSuffix() string {
	switch p {
	case ProfileEEA:
		return "EUXM"
	case ProfileIN:
		return "INXM"
	case ProfileRU:
		return "RUXM"
	case ProfileID:
		return "IDXM"
	case ProfileTR:
		return "TRXM"
	case ProfileTW:
		return "TWXM"
	case ProfileCN:
		return "CNXM"
	default:
		return "MIXM"
	}
}

// deriveCodename recovers the base codename from a possibly
// profile-suffixed device string, e.g. "garnet_in_global" -> "garnet".
func deriveCodename(deviceStr string) string {
	if i := strings.Index(deviceStr, "_"); i >= 0 {
		return deviceStr[:i]
	}
	return deviceStr
}

// replaceVersionRegionSuffix swaps the last four letters of a MIUI version
// string's final dot-segment (its region+variant code) for newSuffix, e.g.
// "OS2.0.202.0.VNRINXM" with newSuffix "EUXM" -> "OS2.0.202.0.VNREUXM".
func replaceVersionRegionSuffix(version, newSuffix string) string {
	dot := strings.LastIndex(version, ".")
	if dot < 0 {
		return version
	}
	head, tail := version[:dot+1], version[dot+1:]
	if len(tail) < 4 {
		return version
	}
	prefix := tail[:len(tail)-4]
	return head + prefix + newSuffix
}

// ApplyProfile rewrites info's device and version fields to impersonate
// profile's retail channel, optionally overriding the detected codename.
// Branch is forced to "F" (stable) to match what the profile's validation
// endpoint expects; codebase is left untouched.
func ApplyProfile(info Info, profile RegionProfile, codenameOverride string) Info {
	codename := codenameOverride
	if codename == "" {
		codename = deriveCodename(info.Device)
	}
	out := info
	out.Device = profile.deviceName(codename)
	out.Version = replaceVersionRegionSuffix(info.Version, profile.versionSuffix())
	out.Branch = "F"
	return out
}
