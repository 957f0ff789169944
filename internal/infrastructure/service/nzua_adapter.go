package service

import (
	"context"
	"encoding/json"

	"github.com/nzua-hub/grade-notifier/internal/application/command"
	"github.com/nzua-hub/grade-notifier/internal/application/query"
	"github.com/nzua-hub/grade-notifier/internal/domain/account"
	"github.com/nzua-hub/grade-notifier/internal/domain/grade"
	"github.com/nzua-hub/grade-notifier/internal/infrastructure/external/nzua"
)

// PrincipalCollector is implemented by nzua.SubjectSource and nzua.FeedSource.
type PrincipalCollector interface {
	Name() string
	Collect(ctx context.Context, p nzua.Principal) ([]grade.Record, error)
}

// GradeSourceAdapter adapts an nzua strategy to the command.GradeSource interface.
type GradeSourceAdapter struct {
	src PrincipalCollector
}

func NewGradeSourceAdapter(src PrincipalCollector) *GradeSourceAdapter {
	return &GradeSourceAdapter{src: src}
}

func (a *GradeSourceAdapter) Name() string { return a.src.Name() }

func (a *GradeSourceAdapter) Collect(ctx context.Context, acc *account.Account) ([]grade.Record, error) {
	p, err := nzua.PrincipalOf(acc)
	if err != nil {
		return nil, err
	}
	return a.src.Collect(ctx, p)
}

// RangeFetcherAdapter adapts nzua.Client to the query.RangeFetcher interface.
type RangeFetcherAdapter struct {
	client *nzua.Client
}

func NewRangeFetcherAdapter(client *nzua.Client) *RangeFetcherAdapter {
	return &RangeFetcherAdapter{client: client}
}

func (a *RangeFetcherAdapter) FetchRange(ctx context.Context, acc *account.Account, kind string, dates ...string) (json.RawMessage, error) {
	k, err := nzua.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	p, err := nzua.PrincipalOf(acc)
	if err != nil {
		return nil, err
	}
	return a.client.FetchRange(ctx, p, k, dates...)
}

var (
	_ command.GradeSource   = (*GradeSourceAdapter)(nil)
	_ command.Authenticator = (*nzua.Client)(nil)
	_ query.RangeFetcher    = (*RangeFetcherAdapter)(nil)
)
