package store

import (
	"context"
	"fmt"
	"time"

	"lifeline/internal/utils"
	"lifeline/pkg/types"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentTableName = "request_documents"

var documentColumns = utils.StructTagValues(types.RequestDocument{})

type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *types.RequestDocument) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}

	query, args, err := psql().Insert(documentTableName).SetMap(utils.StructToMap(doc)).ToSql()
	if err != nil {
		return fmt.Errorf("failed to generate insert document query: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, args...)
	return unavailable(err, "failed to create document")
}

// DocumentsByRequestID returns all documents for a request, newest first.
func (r *DocumentRepository) DocumentsByRequestID(ctx context.Context, requestID string) ([]*types.RequestDocument, error) {
	query, args, err := psql().
		Select(documentColumns...).
		From(documentTableName).
		Where(sq.Eq{"request_id": requestID}).
		OrderBy("uploaded_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to generate documents query: %w", err)
	}

	var docs = make([]*types.RequestDocument, 0)
	err = pgxscan.Select(ctx, r.pool, &docs, query, args...)
	if err != nil {
		return nil, unavailable(err, "failed to fetch documents")
	}

	return docs, nil
}
