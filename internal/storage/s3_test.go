package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	pages   [][]string
	objects map[string]string
	puts    map[string]string
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[aws.ToString(in.Key)] = string(b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		page = len(aws.ToString(in.ContinuationToken))
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strings.Repeat("x", page+1))
	}
	return out, nil
}

func TestListFilesWithPrefixFollowsPages(t *testing.T) {
	f := &fakeS3{pages: [][]string{{"lda/2019_1.zip"}, {"lda/2019_2.zip", "lda/readme.txt"}}}
	keys, err := ListFilesWithPrefix(context.Background(), f, "filings", "lda/")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := []string{"lda/2019_1.zip", "lda/2019_2.zip", "lda/readme.txt"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func TestGetAndPutFile(t *testing.T) {
	f := &fakeS3{objects: map[string]string{"a.zip": "PK"}, puts: map[string]string{}}
	data, err := GetFile(context.Background(), f, "filings", "a.zip")
	if err != nil || string(data) != "PK" {
		t.Fatalf("GetFile = (%q, %v)", data, err)
	}
	if _, err := GetFile(context.Background(), f, "filings", "missing.zip"); err == nil {
		t.Fatal("expected error for missing key")
	}
	if err := PutFile(context.Background(), f, "filings", "summaries/run.json", "application/json", []byte("{}")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if f.puts["summaries/run.json"] != "{}" {
		t.Fatalf("unexpected upload %q", f.puts["summaries/run.json"])
	}
}
