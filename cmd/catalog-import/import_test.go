package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/grup/internal/domain/product"
)

type memRepo struct {
	mu       sync.Mutex
	products map[string]product.Product
	fail     error
}

func (m *memRepo) List(context.Context) ([]product.Product, error) { return nil, nil }

func (m *memRepo) GetByID(context.Context, string) (*product.Product, error) {
	return nil, product.ErrNotFound
}

func (m *memRepo) GetByIDs(context.Context, []string) ([]product.Product, error) { return nil, nil }

func (m *memRepo) Upsert(_ context.Context, p *product.Product) error {
	if m.fail != nil {
		return m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = *p
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func newImporter(t *testing.T, repo product.Repository) *importer {
	return &importer{
		lg:       zaptest.NewLogger(t),
		repo:     repo,
		capacity: 1000,
		fpr:      0.001,
		workers:  2,
	}
}

const (
	flour = `{"id":"flour","name":"Flour","price":"1200","unitTag":"bags"}`
	beans = `{"id":"beans","name":"Beans","basePrice":"5000","sellingUnits":{"enabled":true,"options":[` +
		`{"baseUnitQuantity":"50","displayName":"Bag","baseUnitName":"kg","priceType":"derived"},` +
		`{"baseUnitQuantity":"1","displayName":"Paint","baseUnitName":"kg","priceType":"manual","customPrice":"120"}]}}`
	salt         = `{"id":"salt","name":"Salt","price":"300"}`
	yam          = `{"id":"yam","name":"Yam","price":"900"}`
	yam2         = `{"id":"yam","name":"Yam (large)","price":"1100"}`
	pepperRecord = `{"id":"pepper","name":"Pepper","price":"400"}`
)

func TestImporter_Run(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.jsonl.gz",
			flour,
			beans,
			yam,
			`{"id":"broken",`,
			"",
			`{"id":"zero","name":"Zero","sellingUnits":{"enabled":true,"options":[{"baseUnitQuantity":"0","displayName":"Box"}]}}`,
		),
		writeGz(t, dir, "b.jsonl.gz",
			salt,
			yam2,
			`{"id":"","name":"Nameless id"}`,
			`{"id":"neg","name":"Negative","price":"-5"}`,
		),
		writeGz(t, dir, "c.jsonl.gz",
			pepperRecord,
			pepperRecord,
		),
	}

	repo := &memRepo{products: make(map[string]product.Product)}
	rep, err := newImporter(t, repo).Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 11, rep.Records)
	assert.Equal(t, []string{"pepper", "yam"}, rep.Duplicates)

	require.Len(t, rep.Invalid, 4)
	assert.Equal(t, files[0], rep.Invalid[0].File)
	assert.Equal(t, 4, rep.Invalid[0].Line)
	assert.Equal(t, 6, rep.Invalid[1].Line, "blank lines still count")
	var unitErr *product.InvalidSellingUnitError
	assert.ErrorAs(t, rep.Invalid[1].Err, &unitErr)
	assert.EqualError(t, rep.Invalid[2].Err, "id is required")
	assert.ErrorIs(t, rep.Invalid[3].Err, product.ErrNegativePrice)

	assert.Equal(t, 3, rep.Imported)
	require.Len(t, repo.products, 3)
	assert.Contains(t, repo.products, "flour")
	assert.Contains(t, repo.products, "salt")
	assert.NotContains(t, repo.products, "yam")
	assert.NotContains(t, repo.products, "pepper")

	b := repo.products["beans"]
	require.True(t, b.SellingUnitsEnabled())
	assert.Len(t, b.SellingUnits.Options, 2)
	assert.Equal(t, "120", b.SellingUnits.Options[1].CustomPrice.String())
}

func TestImporter_DryRun(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeGz(t, dir, "a.jsonl.gz", flour, salt)}

	repo := &memRepo{products: make(map[string]product.Product)}
	im := newImporter(t, repo)
	im.dryRun = true

	rep, err := im.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Records)
	assert.Zero(t, rep.Imported)
	assert.Empty(t, repo.products)
}

func TestImporter_Strict(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.jsonl.gz", flour, yam),
		writeGz(t, dir, "b.jsonl.gz", yam2),
	}

	repo := &memRepo{products: make(map[string]product.Product)}
	im := newImporter(t, repo)
	im.strict = true

	rep, err := im.Run(context.Background(), files)
	require.ErrorIs(t, err, ErrRejected)
	require.NotNil(t, rep)
	assert.Equal(t, []string{"yam"}, rep.Duplicates)
	assert.Empty(t, repo.products)
}

func TestImporter_UpsertFailure(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeGz(t, dir, "a.jsonl.gz", flour)}

	repo := &memRepo{products: make(map[string]product.Product), fail: errors.New("connection refused")}
	_, err := newImporter(t, repo).Run(context.Background(), files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert flour")
}

func TestImporter_TooManyFiles(t *testing.T) {
	files := make([]string, maxFiles+1)
	_, err := newImporter(t, nil).Run(context.Background(), files)
	require.Error(t, err)
}

func TestImporter_MissingFile(t *testing.T) {
	_, err := newImporter(t, nil).Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.jsonl.gz")})
	require.Error(t, err)
}

func TestRecordID(t *testing.T) {
	id, err := recordID([]byte(`{"name":"x","nested":{"id":"inner"},"id":"outer"}`))
	require.NoError(t, err)
	assert.Equal(t, "outer", id)

	_, err = recordID([]byte(`{"id":`))
	require.Error(t, err)
}
