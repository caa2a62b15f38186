package hrdoc

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repairflow/apperr"
	"repairflow/auth"
	"repairflow/notify"
	"repairflow/test/pgxfake"
)

var (
	hrActor      = auth.Actor{ID: 60, Role: auth.RoleHR}
	contractor   = auth.Actor{ID: 40, Role: auth.RoleContractor}
	stranger     = auth.Actor{ID: 41, Role: auth.RoleContractor}
	managerActor = auth.Actor{ID: 30, Role: auth.RoleManager}
)

type fixture struct {
	svc    *Service
	repo   *memRepo
	outbox *pgxfake.Outbox
	pool   *pgxfake.Pool
}

func newFixture() fixture {
	repo := newMemRepo()
	outbox := &pgxfake.Outbox{}
	pool := pgxfake.NewPool()
	clock := func() time.Time { return time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC) }
	svc := NewService(pool, repo, gate{contractor.ID: true}, outbox).
		WithClock(clock).
		WithRenderer(func(s Sheet) ([]byte, error) {
			return []byte("pdf:" + string(s.Type) + ":" + s.Body), nil
		})
	return fixture{svc: svc, repo: repo, outbox: outbox, pool: pool}
}

func TestCreateRequiresApprovedContractor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, hrActor, stranger.ID, TypeSafetyClearance)
	assert.ErrorIs(t, err, ErrContractorNotApproved)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)

	_, err = f.svc.Create(ctx, hrActor, contractor.ID, "tax_return")
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = f.svc.Create(ctx, managerActor, contractor.ID, TypeSafetyClearance)
	assert.ErrorIs(t, err, apperr.ErrAuthorizationDenied)

	doc, err := f.svc.Create(ctx, hrActor, contractor.ID, TypeSafetyClearance)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, doc.Status)
	assert.Nil(t, doc.GeneratedAt)
	assert.Nil(t, doc.Path)
}

func TestLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	doc, err := f.svc.Create(ctx, hrActor, contractor.ID, TypeAccessPermit)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, hrActor, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Generate(ctx, hrActor, doc.ID, "  ")
	assert.ErrorIs(t, err, ErrContentRequired)

	_, err = f.svc.Generate(ctx, hrActor, doc.ID, "\xffbroken")
	assert.ErrorIs(t, err, ErrContentEncoding)

	doc, err = f.svc.Generate(ctx, hrActor, doc.ID, "Access to site 4 granted.")
	require.NoError(t, err)
	assert.Equal(t, StatusGenerated, doc.Status)
	require.NotNil(t, doc.Path)
	assert.Equal(t, "hr-documents/40/1-access_permit.pdf", *doc.Path)
	require.NotNil(t, doc.GeneratedAt)
	assert.Equal(t, hrActor.ID, *doc.GeneratedBy)
	require.NotNil(t, doc.ContentSHA256)
	assert.Equal(t, digest([]byte("pdf:access_permit:Access to site 4 granted.")), *doc.ContentSHA256)

	_, err = f.svc.Generate(ctx, hrActor, doc.ID, "rewritten")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	assert.Equal(t, []notify.EventType{notify.EventDocumentGenerated}, f.outbox.Topics())

	done, err := f.svc.Complete(ctx, hrActor, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, doc.Path, done.Path)

	again, err := f.svc.Complete(ctx, hrActor, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, done, again)

	_, err = f.svc.Generate(ctx, hrActor, doc.ID, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestRenderFailureLeavesDocumentPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, hrActor, contractor.ID, TypeContractorAgreement)
	require.NoError(t, err)

	f.svc.WithRenderer(func(Sheet) ([]byte, error) { return nil, errors.New("font missing") })
	_, err = f.svc.Generate(ctx, hrActor, doc.ID, "Terms")
	require.Error(t, err)

	got, err := f.repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, f.outbox.Events)
}

func TestViewScoping(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doc, err := f.svc.Create(ctx, hrActor, contractor.ID, TypeNonDisclosure)
	require.NoError(t, err)

	_, _, err = f.svc.Content(ctx, contractor, doc.ID)
	assert.ErrorIs(t, err, ErrNotGenerated)

	_, err = f.svc.Generate(ctx, hrActor, doc.ID, "Keep it secret.")
	require.NoError(t, err)

	content, got, err := f.svc.Content(ctx, contractor, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.True(t, bytes.HasPrefix(content, []byte("pdf:")))

	_, err = f.svc.Get(ctx, stranger, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrAuthorizationDenied)
	_, err = f.svc.Get(ctx, managerActor, doc.ID)
	assert.ErrorIs(t, err, apperr.ErrAuthorizationDenied)

	other := stranger.ID
	list, err := f.svc.List(ctx, stranger, &contractor.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.svc.List(ctx, hrActor, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = f.svc.List(ctx, hrActor, &other)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCatalogIsStable(t *testing.T) {
	assert.Equal(t, []Type{
		TypeAccessPermit, TypeContractorAgreement, TypeEmploymentCertificate,
		TypeNonDisclosure, TypeSafetyClearance,
	}, Catalog())
	for _, typ := range Catalog() {
		assert.NotEmpty(t, typ.Title())
	}
}
