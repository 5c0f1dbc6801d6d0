// Package escalate routes a completed run's flagged facts to the systems
// humans watch: parts needing manual review go to a Notion review board,
// urgent reorders open a Salesforce procurement case, and a webhook receives
// every escalated part. Each target is optional and independent; per-part
// delivery failures are logged and rolled up into a single summary error.
package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/pkg/notion"
	"github.com/aura-supply/recon-cli/pkg/salesforce"
)

// Escalator fans a run's flagged facts out to the configured targets. A nil
// notion or salesforce client, or an empty webhook URL, disables that target.
type Escalator struct {
	notion     notion.Client
	reviewDB   string
	sf         salesforce.Client
	webhookURL string
	client     *http.Client
}

// New creates an Escalator from the escalation-related config sections.
func New(cfg *config.Config, notionClient notion.Client, sfClient salesforce.Client) *Escalator {
	return &Escalator{
		notion:     notionClient,
		reviewDB:   cfg.Notion.ReviewDB,
		sf:         sfClient,
		webhookURL: cfg.Escalation.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// webhookPayload is the JSON body posted per escalated part.
type webhookPayload struct {
	Kind        string                     `json:"kind"` // "manual_review" or "urgent_reorder"
	RunID       string                     `json:"run_id"`
	Fact        model.UnifiedInventoryFact `json:"fact"`
	EscalatedAt time.Time                  `json:"escalated_at"`
}

// Escalate routes manual_review facts to the review board and urgent facts
// to procurement; the webhook receives both kinds. Targets run concurrently.
func (e *Escalator) Escalate(ctx context.Context, run *model.PipelineRun, facts []model.UnifiedInventoryFact) error {
	var reviews, reorders []model.UnifiedInventoryFact
	for _, f := range facts {
		switch f.Reorder.Urgency {
		case model.UrgencyManualReview:
			reviews = append(reviews, f)
		case model.UrgencyUrgent:
			reorders = append(reorders, f)
		}
	}
	if len(reviews) == 0 && len(reorders) == 0 {
		zap.L().Debug("escalate: nothing to route", zap.String("run_id", run.ID))
		return nil
	}

	// Zero-value group: one target failing must not cancel the others.
	var g errgroup.Group

	if e.notion != nil && e.reviewDB != "" && len(reviews) > 0 {
		g.Go(func() error { return e.deliverReviews(ctx, reviews) })
	}
	if e.sf != nil && len(reorders) > 0 {
		g.Go(func() error { return e.deliverReorders(ctx, run.ID, reorders) })
	}
	if e.webhookURL != "" {
		g.Go(func() error { return e.deliverWebhooks(ctx, run.ID, reviews, reorders) })
	}

	err := g.Wait()
	zap.L().Info("escalate: run findings routed",
		zap.String("run_id", run.ID),
		zap.Int("manual_reviews", len(reviews)),
		zap.Int("urgent_reorders", len(reorders)),
	)
	if err != nil {
		return eris.Wrap(err, "escalate")
	}
	return nil
}

// deliverReviews creates a review page per flagged part, or refreshes the
// numbers on a page that is already open for it.
func (e *Escalator) deliverReviews(ctx context.Context, reviews []model.UnifiedInventoryFact) error {
	open, err := e.openReviewsByPart(ctx)
	if err != nil {
		// A duplicate page beats a dropped flag.
		zap.L().Warn("escalate: list open reviews", zap.Error(err))
		open = map[string]string{}
	}

	failed := 0
	for _, f := range reviews {
		var err error
		if pageID, ok := open[f.PartID]; ok {
			_, err = e.notion.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
				Properties: reviewProperties(f, false),
			})
		} else {
			_, err = e.notion.CreatePage(ctx, &notionapi.PageCreateRequest{
				Parent: notionapi.Parent{
					Type:       notionapi.ParentTypeDatabaseID,
					DatabaseID: notionapi.DatabaseID(e.reviewDB),
				},
				Properties: reviewProperties(f, true),
			})
		}
		if err != nil {
			failed++
			zap.L().Warn("escalate: review board delivery failed",
				zap.String("part_id", f.PartID),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("escalate: part sent for manual review",
			zap.String("part_id", f.PartID),
		)
	}
	if failed > 0 {
		return eris.Errorf("review board: %d of %d deliveries failed", failed, len(reviews))
	}
	return nil
}

// openReviewsByPart maps part IDs to their open review page, keyed by the
// page title.
func (e *Escalator) openReviewsByPart(ctx context.Context) (map[string]string, error) {
	pages, err := notion.QueryOpenReviews(ctx, e.notion, e.reviewDB)
	if err != nil {
		return nil, err
	}
	open := make(map[string]string, len(pages))
	for _, p := range pages {
		if partID := titleText(p, "Part ID"); partID != "" {
			open[partID] = string(p.ID)
		}
	}
	return open, nil
}

func titleText(p notionapi.Page, name string) string {
	prop, ok := p.Properties[name]
	if !ok {
		return ""
	}
	tp, ok := prop.(*notionapi.TitleProperty)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, rt := range tp.Title {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// reviewProperties builds the review page fields from a fact. The title is
// the dedupe key, so updates leave it untouched.
func reviewProperties(f model.UnifiedInventoryFact, includeTitle bool) notionapi.Properties {
	flagged := notionapi.Date(time.Now().UTC())
	props := notionapi.Properties{
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{Name: "Open"},
		},
		"Part Name":           richText(f.PartName),
		"Effective Inventory": notionapi.NumberProperty{Number: float64(f.EffectiveInventory)},
		"Shadow Stock":        notionapi.NumberProperty{Number: float64(f.ShadowStockQty)},
		"Reliability":         notionapi.NumberProperty{Number: f.DataReliabilityIndex},
		"Reason":              richText(f.Reorder.Reasoning),
		"Last Flagged": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &flagged},
		},
	}
	if includeTitle {
		props["Part ID"] = notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: f.PartID}},
			},
		}
	}
	return props
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
		},
	}
}

// deliverReorders opens a procurement case per urgent part, refreshing the
// description when a case for the part is already open.
func (e *Escalator) deliverReorders(ctx context.Context, runID string, reorders []model.UnifiedInventoryFact) error {
	failed := 0
	for _, f := range reorders {
		if err := e.openOrRefreshCase(ctx, runID, f); err != nil {
			failed++
			zap.L().Warn("escalate: procurement case failed",
				zap.String("part_id", f.PartID),
				zap.Error(err),
			)
		}
	}
	if failed > 0 {
		return eris.Errorf("procurement: %d of %d cases failed", failed, len(reorders))
	}
	return nil
}

func (e *Escalator) openOrRefreshCase(ctx context.Context, runID string, f model.UnifiedInventoryFact) error {
	existing, err := salesforce.FindOpenReorderCase(ctx, e.sf, f.PartID)
	if err != nil {
		return err
	}
	description := caseDescription(runID, f)
	if existing != nil {
		if err := salesforce.UpdateProcurementCase(ctx, e.sf, existing.ID, description); err != nil {
			return err
		}
		zap.L().Info("escalate: procurement case refreshed",
			zap.String("part_id", f.PartID),
			zap.String("case_id", existing.ID),
		)
		return nil
	}
	caseID, err := salesforce.CreateProcurementCase(ctx, e.sf, f.PartID, f.PartName, description)
	if err != nil {
		return err
	}
	zap.L().Info("escalate: procurement case opened",
		zap.String("part_id", f.PartID),
		zap.String("case_id", caseID),
	)
	return nil
}

func caseDescription(runID string, f model.UnifiedInventoryFact) string {
	return fmt.Sprintf(
		"Reconciliation run %s flagged %s (%s) for urgent reorder.\n\n"+
			"Effective inventory: %d units (%d on shelf, %d in transit)\n"+
			"Data reliability: %.2f%%\n"+
			"Recommendation: %s",
		runID, f.PartID, f.PartName,
		f.EffectiveInventory, f.QtyOnShelf, f.InTransitQty,
		f.DataReliabilityIndex*100,
		f.Reorder.Reasoning,
	)
}

// deliverWebhooks posts one payload per escalated part, reviews and
// reorders alike.
func (e *Escalator) deliverWebhooks(ctx context.Context, runID string, reviews, reorders []model.UnifiedInventoryFact) error {
	attempted, failed := 0, 0
	post := func(kind string, f model.UnifiedInventoryFact) {
		attempted++
		if err := e.postWebhook(ctx, kind, runID, f); err != nil {
			failed++
			zap.L().Warn("escalate: webhook delivery failed",
				zap.String("part_id", f.PartID),
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
	}
	for _, f := range reviews {
		post("manual_review", f)
	}
	for _, f := range reorders {
		post("urgent_reorder", f)
	}
	if failed > 0 {
		return eris.Errorf("webhook: %d of %d deliveries failed", failed, attempted)
	}
	return nil
}

func (e *Escalator) postWebhook(ctx context.Context, kind, runID string, f model.UnifiedInventoryFact) error {
	payload, err := json.Marshal(webhookPayload{
		Kind:        kind,
		RunID:       runID,
		Fact:        f,
		EscalatedAt: time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
