package formats

import (
	"github.com/JonMunkholm/extraction/internal/extraction"
)

const (
	rdbStationQuery = `SELECT 'HH' AS record_type, t.sampling_type, t.country_code AS landing_country, t.year, t.project,
	t.vessel_code AS trip_code, s.station_number, s.quarter, s.month, s.area, s.statistical_rectangle, s.sub_polygon,
	s.fishing_date, s.fishing_time, s.latitude AS pos_start_lat, s.longitude AS pos_start_lon, s.gear_type, s.mesh_size,
	t.vessel_type, t.id AS trip_id, s.id AS station_id
FROM trip t JOIN fishing_station s ON s.trip_id = t.id`

	rdbSpeciesListQuery = `SELECT 'SL' AS record_type, t.sampling_type, t.country_code AS landing_country, t.year, t.project,
	t.vessel_code AS trip_code, s.station_number, s.quarter, s.month, s.area, s.statistical_rectangle, s.sub_polygon,
	s.gear_type, t.vessel_type, sl.species, sl.catch_category, sl.weight, sl.subsample_weight,
	t.id AS trip_id, s.id AS station_id, sl.id AS species_list_id
FROM trip t JOIN fishing_station s ON s.trip_id = t.id JOIN species_list sl ON sl.station_id = s.id`
)

// RDB is the 1.3 exchange format: trips, stations, species lists and
// length frequencies.
var RDB = FormatSpec{
	Format:  "RDB",
	Version: "1.3",
	Sheets: []SheetSpec{
		{
			Name: "TR",
			Query: `SELECT 'TR' AS record_type, t.sampling_type, t.country_code AS landing_country, t.year, t.project,
	t.vessel_code AS trip_code, t.vessel_type, t.departure_date, t.return_date, t.landing_location,
	(SELECT COUNT(*) FROM fishing_station s WHERE s.trip_id = t.id) AS number_of_sets, t.id AS trip_id
FROM trip t`,
			Columns: []string{"record_type", "sampling_type", "landing_country", "year", "project", "trip_code",
				"vessel_type", "departure_date", "return_date", "landing_location", "number_of_sets", "trip_id"},
			Hidden: []string{"trip_id"},
		},
		{
			Name:  "HH",
			Query: rdbStationQuery,
			Columns: []string{"record_type", "sampling_type", "landing_country", "year", "project", "trip_code",
				"station_number", "quarter", "month", "area", "statistical_rectangle", "sub_polygon",
				"fishing_date", "fishing_time", "pos_start_lat", "pos_start_lon", "gear_type", "mesh_size",
				"vessel_type", "trip_id", "station_id"},
			Hidden:  []string{"trip_id", "station_id"},
			Spatial: true,
		},
		{
			Name:  "SL",
			Query: rdbSpeciesListQuery,
			Columns: []string{"record_type", "sampling_type", "landing_country", "year", "project", "trip_code",
				"station_number", "quarter", "month", "area", "statistical_rectangle", "sub_polygon",
				"gear_type", "vessel_type", "species", "catch_category", "weight", "subsample_weight",
				"trip_id", "station_id", "species_list_id"},
			Hidden:   []string{"trip_id", "station_id", "species_list_id"},
			Distinct: true,
			Spatial:  true,
		},
		{
			Name: "HL",
			Query: `SELECT 'HL' AS record_type, t.year, t.project, t.vessel_code AS trip_code, s.station_number,
	sl.species, sl.catch_category, hl.sex, hl.length_class, hl.number_at_length,
	s.id AS station_id, sl.id AS species_list_id
FROM trip t JOIN fishing_station s ON s.trip_id = t.id
	JOIN species_list sl ON sl.station_id = s.id
	JOIN species_length hl ON hl.species_list_id = sl.id`,
			Columns: []string{"record_type", "year", "project", "trip_code", "station_number",
				"species", "catch_category", "sex", "length_class", "number_at_length",
				"station_id", "species_list_id"},
			Hidden:   []string{"station_id", "species_list_id"},
			Distinct: true,
		},
	},
}

// Free is the simplified two-sheet format.
var Free = FormatSpec{
	Format:  "FREE",
	Version: "1.0",
	Sheets: []SheetSpec{
		{
			Name: "TRIP",
			Query: `SELECT t.project, t.vessel_code, t.year, t.departure_date, t.return_date,
	t.country_code, t.landing_location
FROM trip t`,
			Columns: []string{"project", "vessel_code", "year", "departure_date", "return_date",
				"country_code", "landing_location"},
		},
		{
			Name: "STATION",
			Query: `SELECT t.project, t.vessel_code, t.year, s.station_number, s.fishing_date, s.area,
	s.statistical_rectangle, s.gear_type, s.mesh_size, s.fishing_time, s.latitude, s.longitude
FROM trip t JOIN fishing_station s ON s.trip_id = t.id`,
			Columns: []string{"project", "vessel_code", "year", "station_number", "fishing_date", "area",
				"statistical_rectangle", "gear_type", "mesh_size", "fishing_time", "latitude", "longitude"},
			Spatial: true,
		},
	},
}

var (
	rdbSpace = []string{"area", "statistical_rectangle", "sub_polygon"}
	rdbTime  = []string{"year", "quarter", "month"}
)

// AggRDB aggregates the RDB stations and species lists by space, time and
// technical strata.
var AggRDB = extraction.AggregationFormat{
	Format:  "AGG_RDB",
	Version: "1.3",
	Sheets: []extraction.AggregationSheet{
		{
			Name:    "HH",
			Spatial: rdbSpace,
			Time:    rdbTime,
			Tech:    []string{"gear_type", "vessel_type"},
			Measures: []extraction.Measure{
				{Name: "station_count", Materialize: extraction.AggCount, Read: extraction.AggSum},
				{Name: "fishing_time", Source: "fishing_time", Materialize: extraction.AggSum, Read: extraction.AggSum},
			},
			Default: extraction.Strata{
				SpatialColumnName: "statistical_rectangle",
				TimeColumnName:    "year",
				TechColumnName:    "gear_type",
				AggColumnName:     "station_count",
				AggFunction:       string(extraction.AggSum),
			},
		},
		{
			Name:    "SL",
			Spatial: rdbSpace,
			Time:    rdbTime,
			Tech:    []string{"species", "catch_category", "gear_type"},
			Measures: []extraction.Measure{
				{Name: "weight", Source: "weight", Materialize: extraction.AggSum, Read: extraction.AggSum},
				{Name: "subsample_weight", Source: "subsample_weight", Materialize: extraction.AggSum, Read: extraction.AggSum},
			},
			Default: extraction.Strata{
				SpatialColumnName: "statistical_rectangle",
				TimeColumnName:    "year",
				TechColumnName:    "species",
				AggColumnName:     "weight",
				AggFunction:       string(extraction.AggSum),
			},
		},
	},
}

// Specs lists the built-in live formats.
func Specs() []FormatSpec {
	return []FormatSpec{RDB, Free}
}

// RegisterAll registers the built-in live and aggregation formats.
func RegisterAll(reg *extraction.Registry, previewLimit int) {
	for _, spec := range Specs() {
		reg.RegisterLive(NewSQLExecutor(spec, previewLimit))
	}
	reg.RegisterAggregation(AggRDB)
}
