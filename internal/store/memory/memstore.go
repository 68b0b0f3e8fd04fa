// Package memory is an in-process implementation of the store contracts,
// used by tests and local single-node runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

// Store implements InstallationStore, VariantStore and MetricsStore over
// plain maps. All methods are safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	applications  map[string]upmodel.PushApplication
	variants      map[string]upmodel.Variant
	installations map[string][]upmodel.Installation // keyed by variant id, token-ascending
	pushInfos     map[string]upmodel.PushMessageInformation
	variantErrors map[string]upmodel.VariantErrorStatus
}

func New() *Store {
	return &Store{
		applications:  make(map[string]upmodel.PushApplication),
		variants:      make(map[string]upmodel.Variant),
		installations: make(map[string][]upmodel.Installation),
		pushInfos:     make(map[string]upmodel.PushMessageInformation),
		variantErrors: make(map[string]upmodel.VariantErrorStatus),
	}
}

// --- Seeding helpers ---

func (s *Store) AddApplication(app upmodel.PushApplication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[app.ID] = app
	for _, v := range app.Variants {
		v.ApplicationID = app.ID
		s.variants[v.ID] = v
	}
}

func (s *Store) AddInstallation(inst upmodel.Installation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.installations[inst.VariantID], inst)
	sort.Slice(list, func(i, j int) bool { return list[i].DeviceToken < list[j].DeviceToken })
	s.installations[inst.VariantID] = list
}

// --- InstallationStore ---

func (s *Store) FindDeviceTokens(_ context.Context, variantID string, criteria upmodel.Criteria, cursor string, limit int) (store.TokenPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for _, inst := range s.installations[variantID] {
		if inst.Matches(criteria) {
			matched = append(matched, inst.DeviceToken)
		}
	}

	start := 0
	if cursor != "" {
		for i, tok := range matched {
			if tok > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	page := store.TokenPage{}
	for i := start; i < len(matched) && len(page.Tokens) < limit; i++ {
		page.Tokens = append(page.Tokens, matched[i])
	}
	if len(page.Tokens) > 0 {
		page.Cursor = page.Tokens[len(page.Tokens)-1]
	}
	page.Last = start+len(page.Tokens) >= len(matched)
	return page, nil
}

func (s *Store) RemoveInstallationsForVariantByDeviceTokens(_ context.Context, variantID string, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dead := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		dead[t] = struct{}{}
	}
	kept := s.installations[variantID][:0]
	for _, inst := range s.installations[variantID] {
		if _, gone := dead[inst.DeviceToken]; !gone {
			kept = append(kept, inst)
		}
	}
	s.installations[variantID] = kept
	return nil
}

// --- VariantStore ---

func (s *Store) FindVariantByID(_ context.Context, variantID string) (*upmodel.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[variantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (s *Store) FindVariantsForApplication(_ context.Context, appID string) ([]upmodel.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[appID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]upmodel.Variant, len(app.Variants))
	copy(out, app.Variants)
	return out, nil
}

// --- MetricsStore ---

func (s *Store) CreatePushMessageInformation(_ context.Context, p *upmodel.PushMessageInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushInfos[p.ID] = clonePushInfo(p)
	return nil
}

func (s *Store) FindPushMessageInformation(_ context.Context, id string) (*upmodel.PushMessageInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pushInfos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePushInfo(&p)
	return &out, nil
}

func (s *Store) UpdatePushMessageInformation(_ context.Context, p *upmodel.PushMessageInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pushInfos[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.pushInfos[p.ID] = clonePushInfo(p)
	return nil
}

func (s *Store) InsertVariantErrorStatus(_ context.Context, status upmodel.VariantErrorStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.variantErrors[status.Key()]; exists {
		return nil
	}
	s.variantErrors[status.Key()] = status
	return nil
}

// VariantErrorStatus returns the recorded rejection for a (push job, variant)
// pair, if any. Test helper.
func (s *Store) VariantErrorStatus(pushJobID, variantID string) (upmodel.VariantErrorStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variantErrors[upmodel.VariantErrorStatus{PushJobID: pushJobID, VariantID: variantID}.Key()]
	return v, ok
}

func (s *Store) FindPushMessageInformationsForApplication(_ context.Context, appID, search string, ascending bool, page, perPage int) ([]*upmodel.PushMessageInformation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []upmodel.PushMessageInformation
	for _, p := range s.pushInfos {
		if p.AppID != appID {
			continue
		}
		if search != "" && !strings.Contains(p.RawJSONMessage, search) && !strings.Contains(p.ID, search) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if ascending {
			return all[i].SubmitDate.Before(all[j].SubmitDate)
		}
		return all[j].SubmitDate.Before(all[i].SubmitDate)
	})

	total := len(all)
	start := page * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	out := make([]*upmodel.PushMessageInformation, 0, end-start)
	for i := start; i < end; i++ {
		p := clonePushInfo(&all[i])
		out = append(out, &p)
	}
	return out, total, nil
}

func (s *Store) ApplicationExists(_ context.Context, appID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applications[appID]
	return ok, nil
}

func clonePushInfo(p *upmodel.PushMessageInformation) upmodel.PushMessageInformation {
	out := *p
	out.VariantInformations = make([]upmodel.VariantMetricInformation, len(p.VariantInformations))
	copy(out.VariantInformations, p.VariantInformations)
	return out
}
