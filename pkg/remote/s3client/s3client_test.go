package s3client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittovfs/pkg/address"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/remote"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket implementing API. Listing ignores
// continuation tokens and returns everything in one page.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	bucket  string
	denied  bool
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), bucket: bucket}
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.denied || aws.ToString(in.Bucket) != f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), LastModified: aws.Time(time.Unix(0, 0))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	if in.MaxKeys != nil && len(out.Contents) > int(*in.MaxKeys) {
		out.Contents = out.Contents[:*in.MaxKeys]
	}
	return out, nil
}

type recordingMetrics struct {
	mu    sync.Mutex
	ops   map[string]int
	bytes map[string]int64
}

func (m *recordingMetrics) ObserveOperation(op string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op]++
}

func (m *recordingMetrics) RecordBytes(direction string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[direction] += n
}

func connect(t *testing.T, fake *fakeS3, cfg Config) *Client {
	t.Helper()
	cfg.NewAPI = func(context.Context, Config, remote.Endpoint) (API, error) { return fake, nil }
	c, err := NewDialer(cfg)(context.Background(), remote.Endpoint{Scheme: "s3", Server: fake.bucket})
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background()))
	return c.(*Client)
}

func TestConnectVerifiesBucket(t *testing.T) {
	fake := newFakeS3("data")
	fake.denied = true
	c, err := NewDialer(Config{NewAPI: func(context.Context, Config, remote.Endpoint) (API, error) { return fake, nil }})(
		context.Background(), remote.Endpoint{Server: "data"})
	require.NoError(t, err)
	assert.Error(t, c.Connect(context.Background()))
	assert.False(t, c.Connected())
}

func TestDialerNeedsBucket(t *testing.T) {
	_, err := NewDialer(Config{})(context.Background(), remote.Endpoint{})
	assert.Error(t, err)
}

func TestNewAPINeedsRegion(t *testing.T) {
	_, err := newAPI(context.Background(), Config{}, remote.Endpoint{Server: "data"})
	assert.Error(t, err)
}

func TestObjectKeys(t *testing.T) {
	c := &Client{cfg: Config{KeyPrefix: "vfs/"}}
	assert.Equal(t, "vfs/a/b.txt", c.objectKey("/a/b.txt"))
	assert.Equal(t, "vfs/a/", c.dirPrefix("/a"))
	assert.Equal(t, "vfs/", c.dirPrefix("/"))
}

func TestStatListReadWrite(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("data")
	fake.objects["docs/a.txt"] = []byte("alpha")
	fake.objects["docs/sub/b.txt"] = []byte("bravo")
	metrics := &recordingMetrics{ops: map[string]int{}, bytes: map[string]int64{}}
	c := connect(t, fake, Config{Metrics: metrics})

	info, err := c.Stat(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.False(t, info.IsDir)
	assert.Equal(t, int64(5), info.Size)

	info, err = c.Stat(ctx, "/docs")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	_, err = c.Stat(ctx, "/nothing")
	assert.True(t, errors.Is(err, fserr.FileNotFound))

	entries, err := c.List(ctx, "/docs")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sub", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "a.txt", entries[1].Name)

	_, err = c.List(ctx, "/missing")
	assert.True(t, errors.Is(err, fserr.DirectoryNotFound))

	w, err := c.OpenWrite(ctx, "/docs/c.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, "charlie")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, []byte("charlie"), fake.objects["docs/c.txt"])

	r, err := c.OpenRead(ctx, "/docs/c.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "charlie", string(data))

	_, err = c.OpenRead(ctx, "/docs/zzz")
	assert.True(t, errors.Is(err, fserr.FileNotFound))

	assert.Equal(t, int64(7), metrics.bytes["write"])
	assert.Equal(t, int64(7), metrics.bytes["read"])
	assert.Equal(t, 1, metrics.ops["PutObject"])
}

func TestDirectoriesAndDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("data")
	c := connect(t, fake, Config{})

	require.NoError(t, c.MakeDirectory(ctx, "/empty"))
	_, ok := fake.objects["empty/"]
	assert.True(t, ok)

	entries, err := c.List(ctx, "/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)

	fake.objects["full/x.txt"] = []byte("x")
	err = c.Delete(ctx, "/full", false)
	assert.True(t, errors.Is(err, fserr.NotEmpty))
	require.NoError(t, c.Delete(ctx, "/full", true))
	assert.NotContains(t, fake.objects, "full/x.txt")

	require.NoError(t, c.Delete(ctx, "/empty", false))
	assert.Empty(t, fake.objects)
}

func TestRemoteFileSystemOverS3(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("data")
	fake.objects["reports/2024.csv"] = []byte("a,b\n")

	fs, err := remote.New(ctx, address.MustParse("s3://data/"), remote.Options{
		Dialer: NewDialer(Config{NewAPI: func(context.Context, Config, remote.Endpoint) (API, error) {
			return fake, nil
		}}),
		Registry: remote.NewRegistry(),
	})
	require.NoError(t, err)
	defer fs.Close(ctx)

	n, err := vfs.ResolvePath(ctx, fs, "reports", vfs.NodeAny)
	require.NoError(t, err)
	dir, err := vfs.AsDirectory(n)
	require.NoError(t, err)

	children, err := dir.Children(ctx, vfs.NodeFile)
	require.NoError(t, err)
	require.Len(t, children, 1)
	size, ok := children[0].Attributes().Size()
	require.True(t, ok)
	assert.Equal(t, int64(4), size)
}
