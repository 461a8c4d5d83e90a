package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"companion/internal/database"
	"companion/internal/models"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Search limits for the search_knowledge tool.
const (
	searchDefaultMaxResults = 5
	searchHardCapResults    = 10
	searchContextLines      = 2
	searchSnippetMaxChars   = 500
)

const catalogCacheKey = "knowledge_catalog"

// KnowledgeService manages the knowledge file catalog and serves the
// knowledge tools (list, load by title, search).
type KnowledgeService struct {
	collection *mongo.Collection
	catalog    *gocache.Cache // catalog metadata, invalidated on writes
}

// NewKnowledgeService creates a new knowledge service
func NewKnowledgeService(mongodb *database.MongoDB) *KnowledgeService {
	return &KnowledgeService{
		collection: mongodb.Collection(database.CollectionKnowledgeFiles),
		catalog:    gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Create stores a new knowledge file.
func (s *KnowledgeService) Create(ctx context.Context, title, content string) (*models.KnowledgeFile, error) {
	if title == "" {
		return nil, fmt.Errorf("knowledge file title is required")
	}

	file := &models.KnowledgeFile{
		ID:         uuid.NewString(),
		Title:      title,
		Content:    content,
		Size:       int64(len(content)),
		UploadedAt: time.Now(),
	}

	if _, err := s.collection.InsertOne(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to insert knowledge file: %w", err)
	}

	s.catalog.Delete(catalogCacheKey)
	log.Printf("📚 [KNOWLEDGE] Stored file %q (%d bytes)", title, file.Size)
	return file, nil
}

// Get returns a knowledge file by id.
func (s *KnowledgeService) Get(ctx context.Context, id string) (*models.KnowledgeFile, error) {
	var file models.KnowledgeFile
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&file); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("knowledge file not found")
		}
		return nil, fmt.Errorf("failed to get knowledge file: %w", err)
	}
	return &file, nil
}

// GetMany returns the knowledge files for the given ids, skipping missing ones.
func (s *KnowledgeService) GetMany(ctx context.Context, ids []string) ([]models.KnowledgeFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge files: %w", err)
	}
	defer cursor.Close(ctx)

	var files []models.KnowledgeFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge files: %w", err)
	}
	return files, nil
}

// GetByTitles returns files whose title matches one of the given titles,
// case-insensitive exact match.
func (s *KnowledgeService) GetByTitles(ctx context.Context, titles []string) ([]models.KnowledgeFile, error) {
	if len(titles) == 0 {
		return nil, nil
	}

	wanted := make(map[string]bool, len(titles))
	for _, t := range titles {
		wanted[strings.ToLower(strings.TrimSpace(t))] = true
	}

	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge files: %w", err)
	}
	defer cursor.Close(ctx)

	var all []models.KnowledgeFile
	if err := cursor.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge files: %w", err)
	}

	var matched []models.KnowledgeFile
	for _, f := range all {
		if wanted[strings.ToLower(f.Title)] {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// List returns catalog metadata for all files (no content). Served from a
// short-lived cache since the catalog is read on every chat request.
func (s *KnowledgeService) List(ctx context.Context) ([]models.KnowledgeFileInfo, error) {
	if cached, found := s.catalog.Get(catalogCacheKey); found {
		return cached.([]models.KnowledgeFileInfo), nil
	}

	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge files: %w", err)
	}
	defer cursor.Close(ctx)

	var files []models.KnowledgeFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge files: %w", err)
	}

	infos := make([]models.KnowledgeFileInfo, len(files))
	for i := range files {
		infos[i] = files[i].Info()
	}

	s.catalog.Set(catalogCacheKey, infos, gocache.DefaultExpiration)
	return infos, nil
}

// Delete removes a knowledge file.
func (s *KnowledgeService) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete knowledge file: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("knowledge file not found")
	}

	s.catalog.Delete(catalogCacheKey)
	return nil
}

// Search performs a line-level substring search across the selected files
// (or all files when fileIDs is empty). Each match carries ±2 lines of
// context and is truncated to 500 characters.
func (s *KnowledgeService) Search(ctx context.Context, query string, fileIDs []string, maxResults int) ([]models.KnowledgeSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = searchDefaultMaxResults
	}
	if maxResults > searchHardCapResults {
		maxResults = searchHardCapResults
	}

	var files []models.KnowledgeFile
	var err error
	if len(fileIDs) > 0 {
		files, err = s.GetMany(ctx, fileIDs)
	} else {
		cursor, findErr := s.collection.Find(ctx, bson.M{})
		if findErr != nil {
			return nil, fmt.Errorf("failed to scan knowledge files: %w", findErr)
		}
		defer cursor.Close(ctx)
		err = cursor.All(ctx, &files)
	}
	if err != nil {
		return nil, err
	}

	return SearchFileContents(files, query, maxResults), nil
}

// SearchFileContents is the pure search over in-memory file contents.
func SearchFileContents(files []models.KnowledgeFile, query string, maxResults int) []models.KnowledgeSearchResult {
	needle := strings.ToLower(query)
	var results []models.KnowledgeSearchResult

	for _, file := range files {
		lines := strings.Split(file.Content, "\n")
		for i, line := range lines {
			if !strings.Contains(strings.ToLower(line), needle) {
				continue
			}

			start := i - searchContextLines
			if start < 0 {
				start = 0
			}
			end := i + searchContextLines + 1
			if end > len(lines) {
				end = len(lines)
			}

			snippet := strings.Join(lines[start:end], "\n")
			if len(snippet) > searchSnippetMaxChars {
				snippet = snippet[:searchSnippetMaxChars]
			}

			results = append(results, models.KnowledgeSearchResult{
				FileTitle: file.Title,
				Line:      i + 1,
				Snippet:   snippet,
			})

			if len(results) >= maxResults {
				return results
			}
		}
	}
	return results
}
