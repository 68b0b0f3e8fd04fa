// Package firestore implements the store contracts over Cloud Firestore.
//
// Layout:
//
//	applications/{appId}
//	variants/{variantId}
//	variants/{variantId}/installations/{sha256(token)}
//	pushmessages/{pushId}
//	pushmessages/{pushId}/variant-errors/{pushId:variantId}
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-unifiedpush/internal/store"
	"github.com/tinywideclouds/go-unifiedpush/pkg/upmodel"
)

type Store struct {
	client *firestore.Client
}

func NewStore(client *firestore.Client) *Store {
	return &Store{client: client}
}

// classify maps RPC failures onto the pipeline's error kinds so handlers know
// whether a rollback-and-redeliver is worthwhile.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	case codes.NotFound:
		return store.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", store.ErrPermanent, err)
	}
}

// --- InstallationStore ---

func (s *Store) installations(variantID string) *firestore.CollectionRef {
	return s.client.Collection("variants").Doc(variantID).Collection("installations")
}

func (s *Store) FindDeviceTokens(ctx context.Context, variantID string, criteria upmodel.Criteria, cursor string, limit int) (store.TokenPage, error) {
	q := s.installations(variantID).
		Where("enabled", "==", true).
		OrderBy(firestore.DocumentID, firestore.Asc)
	if len(criteria.Aliases) > 0 {
		q = q.Where("alias", "in", criteria.Aliases)
	}
	if len(criteria.DeviceTypes) > 0 {
		q = q.Where("deviceType", "in", criteria.DeviceTypes)
	}
	if len(criteria.Categories) > 0 {
		q = q.Where("categories", "array-contains-any", criteria.Categories)
	}
	if cursor != "" {
		q = q.StartAfter(cursor)
	}
	q = q.Limit(limit)

	iter := q.Documents(ctx)
	defer iter.Stop()

	page := store.TokenPage{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return store.TokenPage{}, classify(err)
		}
		var inst upmodel.Installation
		if err := doc.DataTo(&inst); err != nil {
			// Corrupt rows are skipped, not fatal.
			continue
		}
		page.Tokens = append(page.Tokens, inst.DeviceToken)
		page.Cursor = doc.Ref.ID
	}
	page.Last = len(page.Tokens) < limit
	return page, nil
}

func (s *Store) RemoveInstallationsForVariantByDeviceTokens(ctx context.Context, variantID string, tokens []string) error {
	for _, token := range tokens {
		if _, err := s.installations(variantID).Doc(hashToken(token)).Delete(ctx); err != nil {
			return classify(err)
		}
	}
	return nil
}

// --- VariantStore ---

func (s *Store) FindVariantByID(ctx context.Context, variantID string) (*upmodel.Variant, error) {
	doc, err := s.client.Collection("variants").Doc(variantID).Get(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var v upmodel.Variant
	if err := doc.DataTo(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPermanent, err)
	}
	return &v, nil
}

func (s *Store) FindVariantsForApplication(ctx context.Context, appID string) ([]upmodel.Variant, error) {
	iter := s.client.Collection("variants").Where("applicationId", "==", appID).Documents(ctx)
	defer iter.Stop()

	var out []upmodel.Variant
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		var v upmodel.Variant
		if err := doc.DataTo(&v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// --- MetricsStore ---

func (s *Store) pushDoc(id string) *firestore.DocumentRef {
	return s.client.Collection("pushmessages").Doc(id)
}

func (s *Store) CreatePushMessageInformation(ctx context.Context, p *upmodel.PushMessageInformation) error {
	if _, err := s.pushDoc(p.ID).Create(ctx, p); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) FindPushMessageInformation(ctx context.Context, id string) (*upmodel.PushMessageInformation, error) {
	doc, err := s.pushDoc(id).Get(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var p upmodel.PushMessageInformation
	if err := doc.DataTo(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrPermanent, err)
	}
	return &p, nil
}

func (s *Store) UpdatePushMessageInformation(ctx context.Context, p *upmodel.PushMessageInformation) error {
	if _, err := s.pushDoc(p.ID).Set(ctx, p); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) InsertVariantErrorStatus(ctx context.Context, v upmodel.VariantErrorStatus) error {
	ref := s.pushDoc(v.PushJobID).Collection("variant-errors").Doc(v.Key())
	_, err := ref.Create(ctx, v)
	if status.Code(err) == codes.AlreadyExists {
		// First recorded reason wins.
		return nil
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) FindPushMessageInformationsForApplication(ctx context.Context, appID, search string, ascending bool, page, perPage int) ([]*upmodel.PushMessageInformation, int, error) {
	dir := firestore.Asc
	if !ascending {
		dir = firestore.Desc
	}
	iter := s.client.Collection("pushmessages").
		Where("appId", "==", appID).
		OrderBy("submitDate", dir).
		Documents(ctx)
	defer iter.Stop()

	// The search filter is applied client-side; Firestore has no full-text
	// predicate over document fields.
	var all []*upmodel.PushMessageInformation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, 0, classify(err)
		}
		var p upmodel.PushMessageInformation
		if err := doc.DataTo(&p); err != nil {
			continue
		}
		if search != "" && !strings.Contains(p.RawJSONMessage, search) && !strings.Contains(p.ID, search) {
			continue
		}
		all = append(all, &p)
	}

	total := len(all)
	start := page * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *Store) ApplicationExists(ctx context.Context, appID string) (bool, error) {
	_, err := s.client.Collection("applications").Doc(appID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

// CreateApplication stores an application document. Administration helper;
// the pipeline itself never writes applications.
func (s *Store) CreateApplication(ctx context.Context, app upmodel.PushApplication) error {
	if _, err := s.client.Collection("applications").Doc(app.ID).Set(ctx, app); err != nil {
		return classify(err)
	}
	return nil
}

// CreateVariant stores a variant document, including its credentials.
func (s *Store) CreateVariant(ctx context.Context, v upmodel.Variant) error {
	if _, err := s.client.Collection("variants").Doc(v.ID).Set(ctx, v); err != nil {
		return classify(err)
	}
	return nil
}

// RegisterInstallation stores one device registration, keyed by the token
// hash to prevent duplicates and hot-spotting.
func (s *Store) RegisterInstallation(ctx context.Context, inst upmodel.Installation) error {
	_, err := s.installations(inst.VariantID).Doc(hashToken(inst.DeviceToken)).Set(ctx, inst)
	if err != nil {
		return classify(err)
	}
	return nil
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
