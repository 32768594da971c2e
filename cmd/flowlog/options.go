package main

import (
	"fmt"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/display"
	"Go2NetLog/internal/filter"
)

// presenterOptions turns the filter section of the config into the initial display state.
func presenterOptions(cfg *config.Config) (display.Options, error) {
	pre, err := filter.ParseSortKey(cfg.Filter.PreSortBy)
	if err != nil {
		return display.Options{}, fmt.Errorf("filter.pre_sort_by: %w", err)
	}
	primary, err := filter.ParseSortKey(cfg.Filter.SortBy)
	if err != nil {
		return display.Options{}, fmt.Errorf("filter.sort_by: %w", err)
	}

	return display.Options{
		Query: filter.Query{
			Include:       filter.ParseTerms(cfg.Filter.Include),
			Exclude:       filter.ParseTerms(cfg.Filter.Exclude),
			IncludeFields: fieldSet(cfg.Filter.IncludeFields),
			ExcludeFields: fieldSet(cfg.Filter.ExcludeFields),
			ResolveHosts:  cfg.Filter.ResolveHosts,
			ResolvePorts:  cfg.Filter.ResolvePorts,
		},
		PreSortBy: pre,
		SortBy:    primary,
	}, nil
}

func fieldSet(f config.FieldFlags) filter.FieldSet {
	return filter.FieldSet{Name: f.Name, ID: f.ID, Address: f.Address, Port: f.Port}
}

// clickHouseConfig returns the first enabled ClickHouse writer block, or nil.
func clickHouseConfig(cfg *config.Config) *config.ClickHouseConfig {
	for i := range cfg.Export.Writers {
		def := &cfg.Export.Writers[i]
		if def.Enabled && def.Type == "clickhouse" {
			return &def.ClickHouse
		}
	}
	return nil
}
