package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/samrosenbaum/cracker/internal/domain"
	"github.com/samrosenbaum/cracker/internal/logger"
	"github.com/samrosenbaum/cracker/internal/repository"
	"github.com/samrosenbaum/cracker/internal/storage"
)

// ErrDuplicateDocument indicates the exact same file bytes were already
// uploaded to some case.
var ErrDuplicateDocument = fmt.Errorf("skipped: duplicate document")

// passageChunkSize bounds the length of a passage sent to the embedding
// model. Splitting happens on paragraph boundaries where possible.
const passageChunkSize = 1200

// ExtractionService turns uploaded evidence files into document rows with
// extracted text, and indexes the text into the vector store for search.
type ExtractionService struct {
	docRepo    *repository.DocumentRepository
	qdrantRepo *repository.QdrantRepository
	storage    storage.ObjectStorage
	embedding  EmbeddingProvider
	logger     *logger.Logger
}

// NewExtractionService creates a new extraction service.
func NewExtractionService(
	docRepo *repository.DocumentRepository,
	qdrantRepo *repository.QdrantRepository,
	objectStorage storage.ObjectStorage,
	embedding EmbeddingProvider,
	log *logger.Logger,
) *ExtractionService {
	return &ExtractionService{
		docRepo:    docRepo,
		qdrantRepo: qdrantRepo,
		storage:    objectStorage,
		embedding:  embedding,
		logger:     log,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *ExtractionService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// StoreDocument persists an uploaded evidence file: hashes it, skips exact
// duplicates, uploads the bytes to object storage, and creates a pending
// document row. Text extraction happens separately so uploads stay fast.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - caseID: owning case.
//   - fileName: original upload file name.
//   - contentType: MIME type reported by the client; guessed from the file
//     extension when empty.
//   - data: raw file bytes.
//
// Returns:
//   - *domain.Document: the created pending document row.
//   - error: ErrDuplicateDocument if the bytes were uploaded before, or a
//     storage/database error.
func (s *ExtractionService) StoreDocument(ctx context.Context, caseID, fileName, contentType string, data []byte) (*domain.Document, error) {
	hash := sha256.Sum256(data)
	sha := hex.EncodeToString(hash[:])

	exists, err := s.docRepo.ExistsBySHA256(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf("failed to check document hash: %w", err)
	}
	if exists {
		return nil, ErrDuplicateDocument
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(fileName))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	width, height := 0, 0
	if strings.HasPrefix(contentType, "image/") {
		width, height, err = getImageDimensions(data)
		if err != nil {
			s.log(ctx).WithError(err).Warn("Failed to get image dimensions")
			width, height = 0, 0
		}
	}

	// Key by content hash so re-uploads of the same bytes map to one object.
	storageKey := fmt.Sprintf("%s/%s%s", sha[:2], sha, filepath.Ext(fileName))

	existsInStorage, err := s.storage.Exists(ctx, storageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check storage existence: %w", err)
	}

	uploaded := false
	if !existsInStorage {
		if err := s.storage.Upload(ctx, storageKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return nil, fmt.Errorf("failed to upload to storage: %w", err)
		}
		uploaded = true
	}

	doc := &domain.Document{
		ID:          uuid.New().String(),
		CaseID:      caseID,
		FileName:    fileName,
		StorageKey:  storageKey,
		ContentType: contentType,
		FileSize:    int64(len(data)),
		SHA256:      sha,
		Width:       width,
		Height:      height,
		Status:      domain.DocumentStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		// Rollback storage ONLY if we uploaded it
		if uploaded {
			if delErr := s.storage.Delete(ctx, storageKey); delErr != nil {
				s.log(ctx).WithFields(logger.Fields{
					"storage_key": storageKey,
				}).WithError(delErr).Error("Failed to rollback storage upload")
			}
		}
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	return doc, nil
}

// Extract recovers text from a stored document, updates its row, and indexes
// the text into the vector store. Image evidence has no recoverable text; the
// row is still marked extracted so analysis knows it was looked at.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - doc: document row to process; mutated in place.
//
// Returns:
//   - error: non-nil on download, database, or indexing failure. The row is
//     marked failed before the error is returned.
func (s *ExtractionService) Extract(ctx context.Context, doc *domain.Document) error {
	reader, err := s.storage.Download(ctx, doc.StorageKey)
	if err != nil {
		s.markFailed(ctx, doc)
		return fmt.Errorf("failed to download from storage: %w", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		s.markFailed(ctx, doc)
		return fmt.Errorf("failed to read stored document: %w", err)
	}

	text := ""
	if isTextContent(doc.ContentType) && utf8.Valid(data) {
		text = string(data)
	}

	doc.ExtractedText = text
	doc.Status = domain.DocumentStatusExtracted
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if text == "" {
		return nil
	}

	if err := s.indexPassages(ctx, doc, text); err != nil {
		// The text itself is safely persisted; search indexing can be
		// redone by retrying the extraction job.
		return fmt.Errorf("failed to index passages: %w", err)
	}

	return nil
}

// indexPassages chunks extracted text, embeds the chunks in one batch call,
// and upserts them as search points.
func (s *ExtractionService) indexPassages(ctx context.Context, doc *domain.Document, text string) error {
	passages := chunkText(text, passageChunkSize)
	if len(passages) == 0 {
		return nil
	}

	vectors, err := s.embedding.EmbedBatch(ctx, passages)
	if err != nil {
		return fmt.Errorf("failed to embed passages: %w", err)
	}
	if len(vectors) != len(passages) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d passages", len(vectors), len(passages))
	}

	for i, passage := range passages {
		payload := &repository.PassagePayload{
			DocumentID:  doc.ID,
			CaseID:      doc.CaseID,
			FileName:    doc.FileName,
			ContentType: doc.ContentType,
			Passage:     passage,
		}
		if err := s.qdrantRepo.Upsert(ctx, uuid.New().String(), vectors[i], payload); err != nil {
			return fmt.Errorf("failed to upsert passage %d: %w", i, err)
		}
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldDocumentID: doc.ID,
		logger.FieldCount:      len(passages),
	}).Debug("Indexed document passages")

	return nil
}

func (s *ExtractionService) markFailed(ctx context.Context, doc *domain.Document) {
	doc.Status = domain.DocumentStatusFailed
	doc.UpdatedAt = time.Now()
	if err := s.docRepo.Update(ctx, doc); err != nil {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldDocumentID: doc.ID,
		}).WithError(err).Error("Failed to mark document failed")
	}
}

func isTextContent(contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch contentType {
	case "application/json", "application/csv", "application/xml":
		return true
	}
	return false
}

func getImageDimensions(data []byte) (int, int, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}

// chunkText splits text into passages of at most maxLen bytes, preferring
// paragraph boundaries and falling back to hard splits for long paragraphs.
func chunkText(text string, maxLen int) []string {
	var passages []string
	var current strings.Builder

	flush := func() {
		if p := strings.TrimSpace(current.String()); p != "" {
			passages = append(passages, p)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxLen {
			flush()
			for len(para) > maxLen {
				cut := maxLen
				// Avoid splitting a multi-byte rune.
				for cut > 0 && !utf8.RuneStart(para[cut]) {
					cut--
				}
				if cut == 0 {
					cut = maxLen
				}
				passages = append(passages, strings.TrimSpace(para[:cut]))
				para = para[cut:]
			}
			if strings.TrimSpace(para) != "" {
				passages = append(passages, strings.TrimSpace(para))
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return passages
}
