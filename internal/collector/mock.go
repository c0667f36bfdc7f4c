package collector

import (
	"context"
	"math/big"
	"sync"
	"time"

	"PointsLedger/internal/model"
)

// MockSource serves fixed records for development and testing. Pages are cut
// from Records and Withdrawals by page and pageSize unless PageSizes is set,
// in which case the n-th call returns PageSizes[n] records.
type MockSource struct {
	Records     []model.AccrualRecord
	Aggregate   *model.ProjectAggregate
	Withdrawals []model.WithdrawalEvent
	PageSizes   []int
	Err         error

	mu    sync.Mutex
	calls int
}

// NewDemoSource returns a MockSource holding n addresses that have been
// accruing for one to n days at now, a matching aggregate, and one withdrawal
// made an hour before now. It backs the ledger.mock development mode.
func NewDemoSource(n int, now time.Time) *MockSource {
	ts := now.Unix()
	m := &MockSource{Aggregate: &model.ProjectAggregate{
		Project:            "demo",
		TotalBalance:       new(big.Int),
		TotalWeightBalance: new(big.Int),
		TotalTimeWeightIn:  new(big.Int),
		TotalTimeWeightOut: new(big.Int),
	}}
	for i := 0; i < n; i++ {
		wb := big.NewInt(int64(i+1) * 1_000)
		since := ts - int64(i+1)*86_400
		r := model.AccrualRecord{
			Address:       mockAddress(0, i),
			Project:       "demo",
			Balance:       new(big.Int).Set(wb),
			WeightBalance: wb,
			TimeWeightIn:  new(big.Int).Mul(wb, big.NewInt(since)),
			TimeWeightOut: new(big.Int),
		}
		m.Records = append(m.Records, r)
		m.Aggregate.TotalBalance.Add(m.Aggregate.TotalBalance, r.Balance)
		m.Aggregate.TotalWeightBalance.Add(m.Aggregate.TotalWeightBalance, r.WeightBalance)
		m.Aggregate.TotalTimeWeightIn.Add(m.Aggregate.TotalTimeWeightIn, r.TimeWeightIn)
	}
	withdrawn := big.NewInt(500)
	m.Withdrawals = []model.WithdrawalEvent{{
		ID:                "demo-w1",
		Address:           mockAddress(1, 0),
		Project:           "demo",
		WithdrawTimestamp: ts - 3_600,
		WeightBalance:     withdrawn,
		TimeWeightIn:      new(big.Int).Mul(withdrawn, big.NewInt(ts-7*86_400)),
		TimeWeightOut:     new(big.Int),
	}}
	return m
}

func (m *MockSource) Name() string { return "mock" }

// Calls returns how many project page queries were issued.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSource) QueryByProject(_ context.Context, project string, page, pageSize int) (*Page, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	var records []model.AccrualRecord
	if m.PageSizes != nil {
		n := 0
		if call < len(m.PageSizes) {
			n = m.PageSizes[call]
		}
		records = generateRecords(project, call, n)
	} else {
		records = slice(m.Records, page, pageSize)
	}
	return &Page{Records: records, Aggregate: m.Aggregate, Received: len(records)}, nil
}

func (m *MockSource) QueryByAddress(_ context.Context, address, project string) (*Page, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	page := &Page{Aggregate: m.Aggregate}
	for _, r := range m.Records {
		if r.Address == address {
			page.Records = append(page.Records, r)
		}
	}
	page.Received = len(page.Records)
	return page, nil
}

func (m *MockSource) QueryWithdrawals(_ context.Context, _ string, page, pageSize int) (*WithdrawalPage, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	events := slice(m.Withdrawals, page, pageSize)
	return &WithdrawalPage{Events: events, Received: len(events)}, nil
}

func (m *MockSource) QueryWithdrawalsByAddress(_ context.Context, address, _ string) ([]model.WithdrawalEvent, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []model.WithdrawalEvent
	for _, w := range m.Withdrawals {
		if w.Address == address {
			out = append(out, w)
		}
	}
	return out, nil
}

func slice[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func generateRecords(project string, call, n int) []model.AccrualRecord {
	records := make([]model.AccrualRecord, n)
	for i := range records {
		records[i] = model.AccrualRecord{
			Address: mockAddress(call, i),
			Project: project,
		}
	}
	return records
}

func mockAddress(call, i int) string {
	const hex = "0123456789abcdef"
	b := []byte("0x0000000000")
	v := call*1_000_000 + i
	for j := len(b) - 1; j >= 2 && v > 0; j-- {
		b[j] = hex[v%16]
		v /= 16
	}
	return string(b)
}
