package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"PointsLedger/internal/metrics"
	"PointsLedger/internal/model"
	"PointsLedger/internal/retry"
)

const (
	projectQuery = `query ($project: String!, $first: Int!, $skip: Int!) {
  userPoints(where: {project: $project}, first: $first, skip: $skip, orderBy: address) {
    address balance weightBalance timeWeightIn timeWeightOut project
  }
  projectPoints(where: {project: $project}) {
    project totalBalance totalWeightBalance totalTimeWeightIn totalTimeWeightOut
  }
}`
	addressQuery = `query ($project: String!, $address: String!) {
  userPoints(where: {project: $project, address: $address}) {
    address balance weightBalance timeWeightIn timeWeightOut project
  }
  projectPoints(where: {project: $project}) {
    project totalBalance totalWeightBalance totalTimeWeightIn totalTimeWeightOut
  }
}`
	withdrawalQuery = `query ($project: String!, $first: Int!, $skip: Int!) {
  withdrawals(where: {project: $project}, first: $first, skip: $skip, orderBy: timestamp) {
    id address project timestamp weightBalance timeWeightIn timeWeightOut
  }
}`
	withdrawalAddressQuery = `query ($project: String!, $address: String!) {
  withdrawals(where: {project: $project, address: $address}, orderBy: timestamp) {
    id address project timestamp weightBalance timeWeightIn timeWeightOut
  }
}`
)

// SubgraphSource implements LedgerSource against a GraphQL indexing endpoint.
type SubgraphSource struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Retry   retry.Config
	log     *slog.Logger
}

// NewSubgraphSource creates a ledger client with optional proxy support.
func NewSubgraphSource(log *slog.Logger, baseURL, apiKey, proxyURL string, timeout time.Duration) *SubgraphSource {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SubgraphSource{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		Retry: retry.DefaultConfig(),
		log:   log,
	}
}

func (s *SubgraphSource) Name() string { return "subgraph" }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data struct {
		UserPoints    []json.RawMessage `json:"userPoints"`
		ProjectPoints []json.RawMessage `json:"projectPoints"`
		Withdrawals   []json.RawMessage `json:"withdrawals"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Numeric fields arrive as decimal strings; json.Number also accepts bare numbers.
type rawRecord struct {
	Address       *string      `json:"address"`
	Project       *string      `json:"project"`
	Balance       *json.Number `json:"balance"`
	WeightBalance *json.Number `json:"weightBalance"`
	TimeWeightIn  *json.Number `json:"timeWeightIn"`
	TimeWeightOut *json.Number `json:"timeWeightOut"`
}

type rawAggregate struct {
	Project            *string      `json:"project"`
	TotalBalance       *json.Number `json:"totalBalance"`
	TotalWeightBalance *json.Number `json:"totalWeightBalance"`
	TotalTimeWeightIn  *json.Number `json:"totalTimeWeightIn"`
	TotalTimeWeightOut *json.Number `json:"totalTimeWeightOut"`
}

type rawWithdrawal struct {
	ID            *string      `json:"id"`
	Address       *string      `json:"address"`
	Project       *string      `json:"project"`
	Timestamp     *json.Number `json:"timestamp"`
	WeightBalance *json.Number `json:"weightBalance"`
	TimeWeightIn  *json.Number `json:"timeWeightIn"`
	TimeWeightOut *json.Number `json:"timeWeightOut"`
}

func (s *SubgraphSource) QueryByProject(ctx context.Context, project string, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	resp, err := s.query(ctx, "query by project", projectQuery, map[string]any{
		"project": project,
		"first":   pageSize,
		"skip":    (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}
	return s.toPage(project, resp), nil
}

func (s *SubgraphSource) QueryByAddress(ctx context.Context, address, project string) (*Page, error) {
	resp, err := s.query(ctx, "query by address", addressQuery, map[string]any{
		"project": project,
		"address": address,
	})
	if err != nil {
		return nil, err
	}
	return s.toPage(project, resp), nil
}

func (s *SubgraphSource) QueryWithdrawals(ctx context.Context, project string, page, pageSize int) (*WithdrawalPage, error) {
	if page < 1 {
		page = 1
	}
	resp, err := s.query(ctx, "query withdrawals", withdrawalQuery, map[string]any{
		"project": project,
		"first":   pageSize,
		"skip":    (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}
	return &WithdrawalPage{
		Events:   s.toWithdrawals(project, resp.Data.Withdrawals),
		Received: len(resp.Data.Withdrawals),
	}, nil
}

func (s *SubgraphSource) QueryWithdrawalsByAddress(ctx context.Context, address, project string) ([]model.WithdrawalEvent, error) {
	resp, err := s.query(ctx, "query withdrawals by address", withdrawalAddressQuery, map[string]any{
		"project": project,
		"address": address,
	})
	if err != nil {
		return nil, err
	}
	return s.toWithdrawals(project, resp.Data.Withdrawals), nil
}

func (s *SubgraphSource) query(ctx context.Context, op, query string, vars map[string]any) (*gqlResponse, error) {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op, err)
	}

	var out *gqlResponse
	err = retry.Do(ctx, s.Retry, func() error {
		resp, err := s.post(ctx, op, body)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SubgraphSource) post(ctx context.Context, op string, body []byte) (*gqlResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("body: %s", string(respBody))}
	}
	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &FetchError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Errors) > 0 {
		return nil, &FetchError{Op: op, Err: fmt.Errorf("graphql: %s", out.Errors[0].Message)}
	}
	return &out, nil
}

func (s *SubgraphSource) toPage(project string, resp *gqlResponse) *Page {
	page := &Page{Received: len(resp.Data.UserPoints)}
	for i, raw := range resp.Data.UserPoints {
		rec, err := parseRecord(i, raw)
		if err != nil {
			s.skip(project, err)
			continue
		}
		page.Records = append(page.Records, rec)
	}
	for i, raw := range resp.Data.ProjectPoints {
		agg, err := parseAggregate(i, raw)
		if err != nil {
			s.skip(project, err)
			continue
		}
		page.Aggregate = &agg
		break
	}
	return page
}

func (s *SubgraphSource) toWithdrawals(project string, raws []json.RawMessage) []model.WithdrawalEvent {
	events := make([]model.WithdrawalEvent, 0, len(raws))
	for i, raw := range raws {
		ev, err := parseWithdrawal(i, raw)
		if err != nil {
			s.skip(project, err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (s *SubgraphSource) skip(project string, err error) {
	metrics.LedgerRecordsSkipped.WithLabelValues(project).Inc()
	if s.log != nil {
		s.log.Warn("collector: skipping malformed ledger record", "project", project, "error", err)
	}
}

func parseRecord(i int, raw json.RawMessage) (model.AccrualRecord, error) {
	var r rawRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.AccrualRecord{}, &ShapeError{Kind: "accrual", Index: i, Err: err}
	}
	p := fieldParser{kind: "accrual", index: i}
	rec := model.AccrualRecord{
		Address:       p.str("address", r.Address),
		Project:       p.str("project", r.Project),
		Balance:       p.num("balance", r.Balance),
		WeightBalance: p.num("weightBalance", r.WeightBalance),
		TimeWeightIn:  p.num("timeWeightIn", r.TimeWeightIn),
		TimeWeightOut: p.num("timeWeightOut", r.TimeWeightOut),
	}
	return rec, p.err
}

func parseAggregate(i int, raw json.RawMessage) (model.ProjectAggregate, error) {
	var r rawAggregate
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.ProjectAggregate{}, &ShapeError{Kind: "aggregate", Index: i, Err: err}
	}
	p := fieldParser{kind: "aggregate", index: i}
	agg := model.ProjectAggregate{
		Project:            p.str("project", r.Project),
		TotalBalance:       p.num("totalBalance", r.TotalBalance),
		TotalWeightBalance: p.num("totalWeightBalance", r.TotalWeightBalance),
		TotalTimeWeightIn:  p.num("totalTimeWeightIn", r.TotalTimeWeightIn),
		TotalTimeWeightOut: p.num("totalTimeWeightOut", r.TotalTimeWeightOut),
	}
	return agg, p.err
}

func parseWithdrawal(i int, raw json.RawMessage) (model.WithdrawalEvent, error) {
	var r rawWithdrawal
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.WithdrawalEvent{}, &ShapeError{Kind: "withdrawal", Index: i, Err: err}
	}
	p := fieldParser{kind: "withdrawal", index: i}
	ev := model.WithdrawalEvent{
		ID:            p.str("id", r.ID),
		Address:       p.str("address", r.Address),
		Project:       p.str("project", r.Project),
		WeightBalance: p.num("weightBalance", r.WeightBalance),
		TimeWeightIn:  p.num("timeWeightIn", r.TimeWeightIn),
		TimeWeightOut: p.num("timeWeightOut", r.TimeWeightOut),
	}
	if ts := p.num("timestamp", r.Timestamp); ts != nil {
		if !ts.IsInt64() {
			p.fail("timestamp", errors.New("out of range"))
		} else {
			ev.WithdrawTimestamp = ts.Int64()
		}
	}
	return ev, p.err
}

// fieldParser records the first missing or mistyped field.
type fieldParser struct {
	kind  string
	index int
	err   error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.err = &ShapeError{Kind: p.kind, Index: p.index, Field: field, Err: err}
	}
}

func (p *fieldParser) str(field string, v *string) string {
	if v == nil || *v == "" {
		p.fail(field, errors.New("missing"))
		return ""
	}
	return *v
}

func (p *fieldParser) num(field string, v *json.Number) *big.Int {
	if v == nil {
		p.fail(field, errors.New("missing"))
		return nil
	}
	n, ok := new(big.Int).SetString(v.String(), 10)
	if !ok {
		p.fail(field, fmt.Errorf("not an integer: %s", strconv.Quote(v.String())))
		return nil
	}
	return n
}
