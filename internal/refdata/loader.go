// Package refdata loads the lookup tables that make validation and ingestion
// data-driven: parameter requirements, result columns and name-to-id maps.
package refdata

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hydrosafe/coa-dashboard/internal/cells"
	"github.com/hydrosafe/coa-dashboard/internal/contract"
	"github.com/hydrosafe/coa-dashboard/internal/models"
)

// Load fetches every lookup table concurrently and assembles ReferenceData.
// Any source error aborts the load.
func Load(ctx context.Context, src contract.ReferenceSource) (*models.ReferenceData, error) {
	var (
		links                        []models.ParameterResultLink
		resultTypes                  []models.ResultType
		params, clients, feed, flush []models.NamedRef
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		links, err = src.ParameterResultLinks(gctx)
		return wrap("parameter result mapping", err)
	})
	g.Go(func() (err error) {
		resultTypes, err = src.ResultTypes(gctx)
		return wrap("result types", err)
	})
	g.Go(func() (err error) {
		params, err = src.Parameters(gctx)
		return wrap("parameters", err)
	})
	g.Go(func() (err error) {
		clients, err = src.Clients(gctx)
		return wrap("clients", err)
	})
	g.Go(func() (err error) {
		feed, err = src.FeedTypes(gctx)
		return wrap("feed types", err)
	})
	g.Go(func() (err error) {
		flush, err = src.FlushTypes(gctx)
		return wrap("flush types", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := &models.ReferenceData{
		ParameterResultTypes: make(map[string][]string),
		ResultTypeColumns:    make(map[string]string, len(resultTypes)),
		ParameterIDs:         byName(params),
		ClientIDs:            byName(clients),
		FeedTypeIDs:          byName(feed),
		FlushTypeIDs:         byName(flush),
	}
	seen := make(map[models.ParameterResultLink]struct{}, len(links))
	for _, l := range links {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		ref.ParameterResultTypes[l.ParameterID] = append(ref.ParameterResultTypes[l.ParameterID], l.ResultTypeID)
	}
	for _, rt := range resultTypes {
		ref.ResultTypeColumns[rt.ID] = rt.Column
	}
	return ref, nil
}

func byName(refs []models.NamedRef) map[string]string {
	m := make(map[string]string, len(refs))
	for _, r := range refs {
		key := cells.Norm(r.Name)
		if key == "" {
			continue
		}
		m[key] = r.ID
	}
	return m
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// RequiredColumn is one result type a parameter set demands, with its CSV column.
// Column is empty when the result type has no column configured.
type RequiredColumn struct {
	ResultTypeID string `json:"result_type_id"`
	Column       string `json:"column"`
}

// RequiredColumns returns the union of result types required by paramIDs, in
// order of first appearance.
func RequiredColumns(ref *models.ReferenceData, paramIDs []string) []RequiredColumn {
	seen := make(map[string]struct{})
	var out []RequiredColumn
	for _, pid := range paramIDs {
		for _, rid := range ref.ParameterResultTypes[pid] {
			if _, ok := seen[rid]; ok {
				continue
			}
			seen[rid] = struct{}{}
			out = append(out, RequiredColumn{ResultTypeID: rid, Column: ref.ResultTypeColumns[rid]})
		}
	}
	return out
}
