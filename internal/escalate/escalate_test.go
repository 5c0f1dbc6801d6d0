package escalate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aura-supply/recon-cli/internal/config"
	"github.com/aura-supply/recon-cli/internal/model"
	"github.com/aura-supply/recon-cli/pkg/salesforce"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type mockSalesforce struct {
	mock.Mock
}

func (m *mockSalesforce) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	return args.Error(0)
}

func (m *mockSalesforce) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *mockSalesforce) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

func escalateConfig(reviewDB, webhookURL string) *config.Config {
	return &config.Config{
		Notion:     config.NotionConfig{ReviewDB: reviewDB},
		Escalation: config.EscalationConfig{WebhookURL: webhookURL},
	}
}

func testRun() *model.PipelineRun {
	return &model.PipelineRun{ID: "run-123"}
}

// reviewFact is P003 with a warehouse count that disagrees with deliveries.
func reviewFact() model.UnifiedInventoryFact {
	return model.UnifiedInventoryFact{
		PartID:               "P003",
		PartName:             "Filter Element FE-100",
		QtyOnShelf:           30,
		InTransitQty:         0,
		ShadowStockQty:       50,
		EffectiveInventory:   30,
		DataReliabilityIndex: 0.45,
		HasInconsistency:     true,
		ConfidenceLevel:      model.ConfidenceLow,
		Reorder: model.ReorderAdvice{
			Urgency:   model.UrgencyManualReview,
			Reasoning: "Warehouse count disagrees with delivered shipments; verify physical stock.",
		},
	}
}

// urgentFact is P002 sitting below the urgent threshold.
func urgentFact() model.UnifiedInventoryFact {
	yes := true
	return model.UnifiedInventoryFact{
		PartID:               "P002",
		PartName:             "Bearing Assembly",
		QtyOnShelf:           12,
		InTransitQty:         0,
		EffectiveInventory:   12,
		DataReliabilityIndex: 0.72,
		ConfidenceLevel:      model.ConfidenceMedium,
		Reorder: model.ReorderAdvice{
			ShouldReorder: &yes,
			Urgency:       model.UrgencyUrgent,
			Reasoning:     "Only 12 units left, below the urgent threshold of 30.",
		},
	}
}

// okFact is a healthy part that must never be escalated.
func okFact() model.UnifiedInventoryFact {
	return model.UnifiedInventoryFact{
		PartID:             "P001",
		PartName:           "Hydraulic Pump HP-2000",
		EffectiveInventory: 65,
		ConfidenceLevel:    model.ConfidenceHigh,
		Reorder:            model.ReorderAdvice{Urgency: model.UrgencyNone},
	}
}

func emptyReviewBoard() *notionapi.DatabaseQueryResponse {
	return &notionapi.DatabaseQueryResponse{Results: []notionapi.Page{}, HasMore: false}
}

func TestEscalate_NothingFlagged(t *testing.T) {
	mn := new(mockNotion)
	msf := new(mockSalesforce)
	e := New(escalateConfig("db-reviews", "http://example.invalid/hook"), mn, msf)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{okFact()})
	require.NoError(t, err)

	// No targets touched when nothing is flagged.
	mn.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
	msf.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscalate_ReviewCreatesPage(t *testing.T) {
	mn := new(mockNotion)
	mn.On("QueryDatabase", mock.Anything, "db-reviews", mock.Anything).
		Return(emptyReviewBoard(), nil).Once()
	mn.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		if req.Parent.DatabaseID != notionapi.DatabaseID("db-reviews") {
			return false
		}
		title, ok := req.Properties["Part ID"].(notionapi.TitleProperty)
		if !ok || len(title.Title) != 1 || title.Title[0].Text.Content != "P003" {
			return false
		}
		status, ok := req.Properties["Status"].(notionapi.StatusProperty)
		return ok && status.Status.Name == "Open"
	})).Return(&notionapi.Page{ID: "page-new"}, nil).Once()

	e := New(escalateConfig("db-reviews", ""), mn, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{reviewFact()})
	require.NoError(t, err)
	mn.AssertExpectations(t)
}

func TestEscalate_ReviewUpdatesExistingPage(t *testing.T) {
	existing := notionapi.Page{
		ID: "page-p003",
		Properties: notionapi.Properties{
			"Part ID": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: "P003"}},
			},
		},
	}

	mn := new(mockNotion)
	mn.On("QueryDatabase", mock.Anything, "db-reviews", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{existing},
			HasMore: false,
		}, nil).Once()
	mn.On("UpdatePage", mock.Anything, "page-p003", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		// Updates refresh the numbers but never touch the title.
		if _, hasTitle := req.Properties["Part ID"]; hasTitle {
			return false
		}
		shadow, ok := req.Properties["Shadow Stock"].(notionapi.NumberProperty)
		return ok && shadow.Number == 50
	})).Return(&notionapi.Page{ID: "page-p003"}, nil).Once()

	e := New(escalateConfig("db-reviews", ""), mn, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{reviewFact()})
	require.NoError(t, err)
	mn.AssertExpectations(t)
	mn.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestEscalate_ReviewQueryFailureFallsBackToCreate(t *testing.T) {
	mn := new(mockNotion)
	mn.On("QueryDatabase", mock.Anything, "db-reviews", mock.Anything).
		Return(nil, assert.AnError).Once()
	mn.On("CreatePage", mock.Anything, mock.Anything).
		Return(&notionapi.Page{ID: "page-new"}, nil).Once()

	e := New(escalateConfig("db-reviews", ""), mn, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{reviewFact()})
	require.NoError(t, err)
	mn.AssertExpectations(t)
}

func TestEscalate_ReviewCreateFailureReturnsError(t *testing.T) {
	mn := new(mockNotion)
	mn.On("QueryDatabase", mock.Anything, "db-reviews", mock.Anything).
		Return(emptyReviewBoard(), nil).Once()
	mn.On("CreatePage", mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()

	e := New(escalateConfig("db-reviews", ""), mn, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{reviewFact()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review board: 1 of 1 deliveries failed")
}

func TestEscalate_UrgentOpensCase(t *testing.T) {
	msf := new(mockSalesforce)
	msf.On("Query", mock.Anything, mock.MatchedBy(func(soql string) bool {
		return strings.Contains(soql, "P002") && strings.Contains(soql, "IsClosed = false")
	}), mock.Anything).Return(nil).Once()
	msf.On("InsertOne", mock.Anything, "Case", mock.MatchedBy(func(record map[string]any) bool {
		desc, _ := record["Description"].(string)
		return record["Subject"] == "Urgent reorder: P002 (Bearing Assembly)" &&
			record["Priority"] == "High" &&
			strings.Contains(desc, "run-123") &&
			strings.Contains(desc, "Effective inventory: 12 units")
	})).Return("500000000000456", nil).Once()

	e := New(escalateConfig("", ""), nil, msf)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{urgentFact()})
	require.NoError(t, err)
	msf.AssertExpectations(t)
}

func TestEscalate_UrgentRefreshesOpenCase(t *testing.T) {
	msf := new(mockSalesforce)
	msf.On("Query", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			out := args.Get(2).(*[]salesforce.Case)
			*out = []salesforce.Case{{
				ID:      "500000000000789",
				Subject: "Urgent reorder: P002 (Bearing Assembly)",
				Status:  "New",
			}}
		}).Return(nil).Once()
	msf.On("UpdateOne", mock.Anything, "Case", "500000000000789", mock.MatchedBy(func(fields map[string]any) bool {
		desc, _ := fields["Description"].(string)
		return strings.Contains(desc, "run-123")
	})).Return(nil).Once()

	e := New(escalateConfig("", ""), nil, msf)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{urgentFact()})
	require.NoError(t, err)
	msf.AssertExpectations(t)
	msf.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscalate_UrgentCaseFailureReturnsError(t *testing.T) {
	msf := new(mockSalesforce)
	msf.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	msf.On("InsertOne", mock.Anything, "Case", mock.Anything).
		Return("", assert.AnError).Once()

	e := New(escalateConfig("", ""), nil, msf)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{urgentFact()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "procurement: 1 of 1 cases failed")
}

func TestEscalate_WebhookReceivesBothKinds(t *testing.T) {
	var mu sync.Mutex
	var received []webhookPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	e := New(escalateConfig("", ts.URL), nil, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{
		okFact(), reviewFact(), urgentFact(),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	kinds := map[string]string{}
	for _, p := range received {
		kinds[p.Kind] = p.Fact.PartID
		assert.Equal(t, "run-123", p.RunID)
		assert.WithinDuration(t, time.Now(), p.EscalatedAt, time.Minute)
	}
	assert.Equal(t, "P003", kinds["manual_review"])
	assert.Equal(t, "P002", kinds["urgent_reorder"])
}

func TestEscalate_WebhookFailureSummarized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	e := New(escalateConfig("", ts.URL), nil, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{
		reviewFact(), urgentFact(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: 2 of 2 deliveries failed")
}

// TestEscalate_IndependentTargets verifies one target failing does not stop
// the others from receiving their deliveries.
func TestEscalate_IndependentTargets(t *testing.T) {
	mn := new(mockNotion)
	mn.On("QueryDatabase", mock.Anything, "db-reviews", mock.Anything).
		Return(emptyReviewBoard(), nil).Once()
	mn.On("CreatePage", mock.Anything, mock.Anything).
		Return(nil, assert.AnError).Once()

	msf := new(mockSalesforce)
	msf.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	msf.On("InsertOne", mock.Anything, "Case", mock.Anything).
		Return("500000000000456", nil).Once()

	var hits int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	e := New(escalateConfig("db-reviews", ts.URL), mn, msf)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{
		reviewFact(), urgentFact(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review board")

	// The procurement case and both webhook posts still went out.
	msf.AssertExpectations(t)
	mu.Lock()
	assert.Equal(t, 2, hits)
	mu.Unlock()
}

func TestEscalate_SkipsDisabledTargets(t *testing.T) {
	e := New(escalateConfig("", ""), nil, nil)

	err := e.Escalate(context.Background(), testRun(), []model.UnifiedInventoryFact{
		reviewFact(), urgentFact(),
	})
	require.NoError(t, err)
}
