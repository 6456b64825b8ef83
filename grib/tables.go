package grib

import (
	"fmt"
	"time"
)

// paramKey identifies a product in the WMO code tables.
type paramKey struct {
	discipline uint8
	category   uint8
	number     uint8
}

type paramInfo struct {
	short string
	long  string
}

// params covers the products common to the GFS/HRRR/GEFS archives this
// scanner targets. Unknown products get a stable synthesized short name, so
// indexing still works; only the display names suffer.
var params = map[paramKey]paramInfo{
	{0, 0, 0}:  {"TMP", "Temperature"},
	{0, 0, 4}:  {"TMAX", "Maximum temperature"},
	{0, 0, 5}:  {"TMIN", "Minimum temperature"},
	{0, 0, 6}:  {"DPT", "Dew point temperature"},
	{0, 1, 1}:  {"RH", "Relative humidity"},
	{0, 1, 8}:  {"APCP", "Total precipitation"},
	{0, 1, 13}: {"WEASD", "Water equivalent of accumulated snow depth"},
	{0, 1, 22}: {"CLWMR", "Cloud mixing ratio"},
	{0, 2, 2}:  {"UGRD", "U component of wind"},
	{0, 2, 3}:  {"VGRD", "V component of wind"},
	{0, 2, 8}:  {"VVEL", "Vertical velocity (pressure)"},
	{0, 2, 22}: {"GUST", "Wind speed (gust)"},
	{0, 3, 0}:  {"PRES", "Pressure"},
	{0, 3, 1}:  {"PRMSL", "Pressure reduced to MSL"},
	{0, 3, 5}:  {"HGT", "Geopotential height"},
	{0, 6, 1}:  {"TCDC", "Total cloud cover"},
	{0, 7, 6}:  {"CAPE", "Convective available potential energy"},
	{0, 7, 7}:  {"CIN", "Convective inhibition"},
	{0, 19, 0}: {"VIS", "Visibility"},
	{2, 0, 0}:  {"LAND", "Land cover"},
	{2, 0, 2}:  {"TSOIL", "Soil temperature"},
}

func lookupParam(discipline, category, number uint8) paramInfo {
	if info, ok := params[paramKey{discipline, category, number}]; ok {
		return info
	}
	name := fmt.Sprintf("unknown_%d_%d_%d", discipline, category, number)
	return paramInfo{short: name, long: name}
}

// levelTypes maps code table 4.5 fixed surface types to the cfgrib
// typeOfLevel vocabulary the sidecar descriptors use.
var levelTypes = map[uint8]string{
	1:   "surface",
	2:   "cloudBase",
	3:   "cloudTop",
	4:   "isothermZero",
	6:   "maxWind",
	7:   "tropopause",
	100: "isobaricInhPa",
	101: "meanSea",
	102: "heightAboveSea",
	103: "heightAboveGround",
	104: "sigma",
	106: "depthBelowLandLayer",
	200: "atmosphere",
	220: "planetaryBoundaryLayer",
}

func lookupLevelType(code uint8) string {
	if name, ok := levelTypes[code]; ok {
		return name
	}
	return fmt.Sprintf("level_%d", code)
}

// stepTypes maps code table 4.10 statistical processing to cfgrib stepType
// names. Templates without statistical processing are "instant".
var stepTypes = map[uint8]string{
	0: "avg",
	1: "accum",
	2: "max",
	3: "min",
}

func lookupStepType(statProcess uint8) string {
	if name, ok := stepTypes[statProcess]; ok {
		return name
	}
	return "instant"
}

// timeUnits maps code table 4.4 time range units to durations.
var timeUnits = map[uint8]time.Duration{
	0:  time.Minute,
	1:  time.Hour,
	2:  24 * time.Hour,
	10: 3 * time.Hour,
	11: 6 * time.Hour,
	12: 12 * time.Hour,
	13: time.Second,
}
