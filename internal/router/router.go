// Package router turns a candidate set, the caller-held conversation state,
// and (when needed) the model's structured decision into exactly one tagged
// response. Three situations route directly without consulting the model:
// structurally unambiguous disambiguation, "show all" against stored
// options, and plural-suffix navigation. Everything else goes through the
// model, and an order decision passes through the validator and engine
// before it is finalized.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/geo-query-service/internal/candidates"
	"github.com/couchcryptid/geo-query-service/internal/catalog"
	"github.com/couchcryptid/geo-query-service/internal/domain"
	"github.com/couchcryptid/geo-query-service/internal/engine"
	"github.com/couchcryptid/geo-query-service/internal/observability"
	"github.com/couchcryptid/geo-query-service/internal/order"
	"github.com/couchcryptid/geo-query-service/internal/translator"
)

// Router finalizes query responses.
type Router struct {
	cat     *catalog.Catalog
	model   translator.Model
	eng     *engine.Engine
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Router.
func New(cat *catalog.Catalog, model translator.Model, eng *engine.Engine, logger *slog.Logger, metrics *observability.Metrics) *Router {
	return &Router{cat: cat, model: model, eng: eng, logger: logger, metrics: metrics}
}

// Route produces the single response for a query. Collaborator failures
// come back as terminal chat responses, never as partial orders.
func (r *Router) Route(ctx context.Context, cs *domain.CandidateSet, conv *domain.Conversation) *domain.Response {
	if resp := r.routeDirect(cs, conv); resp != nil {
		return resp
	}

	prompt := translator.BuildContext(cs, r.cat, conv)
	start := time.Now()
	decision, err := r.model.Decide(ctx, prompt)
	r.metrics.ModelDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.ModelRequests.WithLabelValues("error").Inc()
		r.logger.Error("model consultation failed", "error", err)
		return domain.ChatResponse("I couldn't interpret that request right now. Please try again.")
	}
	r.metrics.ModelRequests.WithLabelValues("success").Inc()
	return r.finalize(ctx, cs, decision)
}

// routeDirect handles the paths that bypass the model. Returns nil when the
// model must be consulted.
func (r *Router) routeDirect(cs *domain.CandidateSet, conv *domain.Conversation) *domain.Response {
	showAll := candidates.IsShowAllTrigger(cs.Query)

	// "Show them all" against options the caller stored from a previous
	// disambiguation: resolve exactly those codes.
	if showAll && conv != nil && len(conv.PriorOptions) > 0 {
		r.metrics.DirectRoutes.WithLabelValues("show_all").Inc()
		return &domain.Response{
			Type:      domain.ResponseNavigate,
			Locations: conv.PriorOptions,
			Summary:   fmt.Sprintf("Showing all %d locations", len(conv.PriorOptions)),
		}
	}

	locations := cs.ByKind(domain.CandidateLocation)

	// Plural suffix without prior disambiguation context: show every match.
	if !hasPriorOptions(conv) {
		var plural []domain.LocationOption
		for _, c := range locations {
			if c.SuffixType == domain.SuffixPlural {
				plural = append(plural, domain.LocationOption{LocationCode: c.LocationCode, Label: c.Value})
			}
		}
		if len(plural) > 0 {
			r.metrics.DirectRoutes.WithLabelValues("plural").Inc()
			return &domain.Response{
				Type:      domain.ResponseNavigate,
				Locations: plural,
				Summary:   fmt.Sprintf("%d matching locations", len(plural)),
			}
		}
	}

	// Structural disambiguation: genuinely multiple same-confidence matches
	// of one term. Competing categories disqualify the direct route — the
	// model decides those.
	if !showAll {
		var options []domain.LocationOption
		var needConf float64
		for _, c := range locations {
			if c.NeedsDisambiguation {
				options = append(options, domain.LocationOption{LocationCode: c.LocationCode, Label: c.Value})
				needConf = c.Confidence
			}
		}
		if len(options) > 1 {
			if hasCompetingCandidate(cs, needConf) {
				return nil
			}
			r.metrics.DirectRoutes.WithLabelValues("disambiguate").Inc()
			return &domain.Response{
				Type:    domain.ResponseDisambiguate,
				Options: options,
				Query:   cs.Query,
				Summary: fmt.Sprintf("%d locations match; pick one", len(options)),
			}
		}
	}

	return nil
}

func hasPriorOptions(conv *domain.Conversation) bool {
	return conv != nil && len(conv.PriorOptions) > 0
}

// hasCompetingCandidate reports whether a source candidate, or a
// non-navigation intent candidate, is at least as confident as the tied
// locations. A navigation intent supports the location reading; anything
// else that dominant means the query has a second plausible reading.
func hasCompetingCandidate(cs *domain.CandidateSet, conf float64) bool {
	if best, ok := cs.Best(domain.CandidateSource); ok && best.Confidence >= conf {
		return true
	}
	for _, c := range cs.ByKind(domain.CandidateIntent) {
		if c.Value != "navigation" && c.Confidence >= conf {
			return true
		}
	}
	return false
}

// finalize maps a model decision onto the response union.
func (r *Router) finalize(ctx context.Context, cs *domain.CandidateSet, decision *translator.Decision) *domain.Response {
	switch decision.Type {
	case "chat":
		return domain.ChatResponse(decision.Message)

	case "navigate":
		return &domain.Response{
			Type:      domain.ResponseNavigate,
			Locations: decision.Locations,
			Summary:   decision.Message,
		}

	case "disambiguate":
		return &domain.Response{
			Type:    domain.ResponseDisambiguate,
			Options: decision.Options,
			Query:   cs.Query,
			Summary: decision.Message,
		}

	case "order":
		return r.executeOrder(ctx, decision)
	}

	r.logger.Warn("unroutable decision", "type", decision.Type)
	return domain.ChatResponse("I couldn't turn that into a map answer.")
}

func (r *Router) executeOrder(ctx context.Context, decision *translator.Decision) *domain.Response {
	items, specs, warnings := order.ValidateAndExpand(decision.OrderItems(), decision.DerivedSpecs(), r.cat)

	var valid int
	for _, it := range items {
		if it.Valid {
			valid++
		} else {
			r.metrics.ValidationErrors.Inc()
			warnings = append(warnings, it.Error)
		}
	}
	r.metrics.OrderItems.Observe(float64(len(items)))
	if valid == 0 {
		return &domain.Response{
			Type:     domain.ResponseChat,
			Message:  "None of the requested datasets are available.",
			Warnings: warnings,
		}
	}

	// An events-mode item switches the whole response to event shape.
	for _, it := range items {
		if it.Valid && it.Mode == domain.ModeEvents {
			return r.executeEvents(ctx, it, warnings)
		}
	}

	boxes, execWarnings, err := r.eng.Execute(ctx, items, specs)
	warnings = append(warnings, execWarnings...)
	if err != nil {
		r.logger.Error("order execution failed", "error", err)
		return domain.ChatResponse("The data backend is unavailable right now.")
	}
	features, err := r.eng.BuildFeatures(ctx, boxes)
	if err != nil {
		r.logger.Error("geometry resolution failed", "error", err)
		return domain.ChatResponse("The data backend is unavailable right now.")
	}

	display := order.DisplayLabels(items, specs, r.cat)
	return &domain.Response{
		Type: domain.ResponseOrder,
		Order: &domain.OrderResult{
			Items:   items,
			Derived: specs,
			Display: display,
		},
		GeoJSON:  features,
		Summary:  fmt.Sprintf("%d metrics across %d locations", len(display), len(boxes.Codes)),
		Warnings: warnings,
	}
}

func (r *Router) executeEvents(ctx context.Context, it domain.OrderItem, warnings []string) *domain.Response {
	result, eventWarnings, err := r.eng.ExecuteEvents(ctx, it)
	warnings = append(warnings, eventWarnings...)
	if err != nil {
		r.logger.Error("event execution failed", "error", err)
		return domain.ChatResponse("The event backend is unavailable right now.")
	}

	resp := &domain.Response{
		Type:        domain.ResponseEvents,
		GeoJSON:     domain.NewFeatureCollection(result.Features),
		TimeData:    result.TimeData,
		Granularity: result.Granularity,
		Summary:     result.Summary,
		Warnings:    warnings,
	}
	if !result.TimeRange.Start.IsZero() {
		tr := result.TimeRange
		resp.TimeRange = &tr
	}
	return resp
}
