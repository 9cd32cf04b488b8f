package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheRealDuckers/the-hackers/internal/adapter"
)

// DynamoAPI is the subset of *dynamodb.Client used by Store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements adapter.ContentStore.
// If client is nil, it uses an in-memory map (tests, plain dev mode).
// If client is set, it persists to a DynamoDB table keyed by "path"
// (dev mode against LocalStack).
type Store struct {
	client    DynamoAPI
	tableName string

	// Fallback for tests
	files map[string]*adapter.File
	mu    sync.RWMutex

	tokenFunc func(content []byte) string
}

// Option configures a Store.
type Option func(*Store)

// WithTokenFunc replaces the version token generator. The default is the
// git blob SHA of the content, matching what GitHub reports.
func WithTokenFunc(f func(content []byte) string) Option {
	return func(s *Store) { s.tokenFunc = f }
}

// SequentialTokens yields "v1", "v2", ... regardless of content.
func SequentialTokens() func([]byte) string {
	var mu sync.Mutex
	n := 0
	return func([]byte) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "v" + strconv.Itoa(n)
	}
}

// NewStore creates a Store. tableName is ignored when client is nil.
func NewStore(client DynamoAPI, tableName string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		tableName: tableName,
		files:     make(map[string]*adapter.File),
		tokenFunc: BlobSHA,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BlobSHA returns the git object id of content stored as a blob.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

type fileItem struct {
	Path         string    `dynamodbav:"path"`
	Content      []byte    `dynamodbav:"content"`
	SHA          string    `dynamodbav:"sha"`
	Size         int64     `dynamodbav:"size"`
	ModifiedTime time.Time `dynamodbav:"modified_time"`
}

func (i fileItem) toFile() *adapter.File {
	return &adapter.File{
		FileMetadata: adapter.FileMetadata{
			Path:         i.Path,
			Name:         baseName(i.Path),
			Size:         i.Size,
			VersionToken: i.SHA,
			ModifiedTime: i.ModifiedTime,
		},
		Content: i.Content,
	}
}

func (s *Store) newItem(path string, content []byte) fileItem {
	return fileItem{
		Path:         path,
		Content:      append([]byte(nil), content...),
		SHA:          s.tokenFunc(content),
		Size:         int64(len(content)),
		ModifiedTime: time.Now().UTC(),
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, adapter.ErrUnavailable, err)
}

// Seed writes content unconditionally. It exists for dev-mode fixtures and
// tests; request paths always go through Put.
func (s *Store) Seed(ctx context.Context, path string, content []byte) (*adapter.FileMetadata, error) {
	path, err := adapter.CleanPath(path)
	if err != nil {
		return nil, err
	}
	item := s.newItem(path, content)

	if s.client == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		f := item.toFile()
		s.files[path] = f
		meta := f.FileMetadata
		return &meta, nil
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return nil, unavailable("seed", err)
	}
	meta := item.toFile().FileMetadata
	return &meta, nil
}

func (s *Store) Get(ctx context.Context, path string) (*adapter.File, error) {
	if s.client == nil {
		return s.getFileMap(path)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"path": &types.AttributeValueMemberS{Value: path},
		},
	})
	if err != nil {
		return nil, unavailable("get "+path, err)
	}
	if out.Item == nil {
		return nil, adapter.ErrNotFound
	}

	var item fileItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file item: %w", err)
	}
	return item.toFile(), nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte, expectedToken string, _ adapter.Commit) (*adapter.FileMetadata, error) {
	if expectedToken == "" {
		return nil, fmt.Errorf("put %s without version token: %w", path, adapter.ErrConflict)
	}
	if s.client == nil {
		return s.putFileMap(path, content, expectedToken)
	}

	item := s.newItem(path, content)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file item: %w", err)
	}

	// "path" is a DynamoDB reserved word.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(#path) AND #sha = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#path": "path",
			"#sha":  "sha",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expectedToken},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &condFailed) {
			return nil, unavailable("put "+path, err)
		}
		// The condition covers both a missing item and a stale token.
		if _, getErr := s.Get(ctx, path); errors.Is(getErr, adapter.ErrNotFound) {
			return nil, adapter.ErrNotFound
		}
		return nil, adapter.ErrConflict
	}

	meta := item.toFile().FileMetadata
	return &meta, nil
}

func (s *Store) List(ctx context.Context, root string) ([]adapter.Entry, error) {
	if s.client == nil {
		s.mu.RLock()
		paths := make([]string, 0, len(s.files))
		for p := range s.files {
			paths = append(paths, p)
		}
		s.mu.RUnlock()
		return children(root, paths)
	}

	input := &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		ProjectionExpression:     aws.String("#path"),
		ExpressionAttributeNames: map[string]string{"#path": "path"},
	}
	if root != "" {
		input.FilterExpression = aws.String("begins_with(#path, :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: root + "/"},
		}
	}

	var paths []string
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, unavailable("list "+root, err)
		}
		var items []fileItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file items: %w", err)
		}
		for _, item := range items {
			paths = append(paths, item.Path)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return children(root, paths)
}

// children derives the direct entries of root from a flat set of file paths.
func children(root string, paths []string) ([]adapter.Entry, error) {
	prefix := ""
	if root != "" {
		prefix = root + "/"
	}

	seen := make(map[string]bool)
	entries := []adapter.Entry{}
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, isDir := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true

		entry := adapter.Entry{Name: name, Path: prefix + name, Type: adapter.TypeFile}
		if isDir {
			entry.Type = adapter.TypeDir
		}
		entries = append(entries, entry)
	}
	if root != "" && len(entries) == 0 {
		return nil, adapter.ErrNotFound
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// --- Map Implementations (Fallback) ---

func (s *Store) getFileMap(path string) (*adapter.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[path]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return &adapter.File{
		FileMetadata: f.FileMetadata,
		Content:      append([]byte(nil), f.Content...),
	}, nil
}

func (s *Store) putFileMap(path string, content []byte, expectedToken string) (*adapter.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	if f.VersionToken != expectedToken {
		return nil, adapter.ErrConflict
	}
	updated := s.newItem(path, content).toFile()
	s.files[path] = updated
	meta := updated.FileMetadata
	return &meta, nil
}
