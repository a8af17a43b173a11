package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects      map[string][]byte
	deleteCalls  int
	listPageSize int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteCalls++
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		_, _ = fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := min(start+f.listPageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}, listPageSize: 2}
	store := NewS3(fake, "bucket")

	for i := 0; i < 5; i++ {
		if err := store.Put(ctx, fmt.Sprintf("data/part-%d", i), []byte{byte(i)}, "application/octet-stream"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Put(ctx, "other/file", []byte("x"), ""); err != nil {
		t.Fatal(err)
	}

	t.Run("get missing is ErrNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, "data/part-1")
		if err != nil || !ok {
			t.Errorf("Exists = %v, %v", ok, err)
		}
		ok, err = store.Exists(ctx, "data/part-9")
		if err != nil || ok {
			t.Errorf("Exists(missing) = %v, %v", ok, err)
		}
	})

	t.Run("list follows pagination", func(t *testing.T) {
		keys, err := store.List(ctx, "data/")
		if err != nil {
			t.Fatal(err)
		}
		if len(keys) != 5 {
			t.Errorf("expected 5 keys, got %v", keys)
		}
	})

	t.Run("delete", func(t *testing.T) {
		keys, _ := store.List(ctx, "data/")
		if err := store.Delete(ctx, keys...); err != nil {
			t.Fatal(err)
		}
		left, _ := store.List(ctx, "")
		if len(left) != 1 || left[0] != "other/file" {
			t.Errorf("unexpected remaining keys %v", left)
		}
		if fake.deleteCalls != 1 {
			t.Errorf("expected one batch, got %d", fake.deleteCalls)
		}
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("bucket")

	body := []byte("hello")
	if err := m.Put(ctx, "a/b.txt", body, "text/plain"); err != nil {
		t.Fatal(err)
	}
	body[0] = 'j'

	got, err := m.Get(ctx, "a/b.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("stored object must not alias the caller's slice, got %q", got)
	}
	if m.ContentType("a/b.txt") != "text/plain" {
		t.Errorf("content type not recorded")
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_ = m.Put(ctx, "a/c.txt", nil, "")
	_ = m.Put(ctx, "b/d.txt", nil, "")
	keys, _ := m.List(ctx, "a/")
	if strings.Join(keys, ",") != "a/b.txt,a/c.txt" {
		t.Errorf("unexpected list %v", keys)
	}

	_ = m.Delete(ctx, "a/b.txt", "missing")
	if ok, _ := m.Exists(ctx, "a/b.txt"); ok {
		t.Error("object should be deleted")
	}
}
