package contentstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa/poatest"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failPut error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
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

func TestAddressFormat(t *testing.T) {
	addr := Address([]byte("{}"))
	assert.Len(t, addr, 46)
	assert.True(t, strings.HasPrefix(addr, "Qm"))
	assert.True(t, ValidAddress(addr))
	assert.Equal(t, addr, Address([]byte("{}")))

	for _, bad := range []string{"", "Qm", "Xm" + addr[2:], addr + "0", "Qm" + strings.Repeat("G", 44)} {
		assert.False(t, ValidAddress(bad), bad)
	}
}

func TestStores(t *testing.T) {
	backends := map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"s3":     func() Store { return newS3Store(newFakeS3(), "packages", "poa/") },
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			pkg := poatest.Package("sub-1")

			addr, err := store.Put(ctx, pkg)
			require.NoError(t, err)
			require.True(t, ValidAddress(addr))

			again, err := store.Put(ctx, pkg)
			require.NoError(t, err)
			assert.Equal(t, addr, again)

			got, err := store.Get(ctx, addr)
			require.NoError(t, err)
			assert.Equal(t, pkg.PackageHash, got.PackageHash)
			assert.Equal(t, pkg.SubmissionID, got.SubmissionID)
			assert.True(t, poa.Verify(got))

			missing := Address([]byte("missing"))
			_, err = store.Get(ctx, missing)
			assert.True(t, xerrors.HasCode(err, xerrors.CodeNotFound), "got %v", err)

			_, err = store.Get(ctx, "not-an-address")
			assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
		})
	}
}

func TestPutRejectsTamperedPackage(t *testing.T) {
	pkg := poatest.Package("sub-1")
	pkg.WorkerAgentID = "someone_else"

	_, err := NewMemoryStore().Put(context.Background(), pkg)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeValidation))

	_, err = NewMemoryStore().Put(context.Background(), nil)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
}

func TestGetRejectsCorruptedObject(t *testing.T) {
	store := NewMemoryStore()
	addr, err := store.Put(context.Background(), poatest.Package("sub-1"))
	require.NoError(t, err)

	store.Corrupt(addr, []byte(`{"submission_id":"sub-1"}`))
	_, err = store.Get(context.Background(), addr)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeValidation))
}

func TestS3PutSkipsExistingAndWrapsFailures(t *testing.T) {
	fake := newFakeS3()
	store := newS3Store(fake, "packages", "poa/")
	pkg := poatest.Package("sub-1")

	addr, err := store.Put(context.Background(), pkg)
	require.NoError(t, err)
	_, err = store.Put(context.Background(), pkg)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)
	_, ok := fake.objects["poa/"+addr+".json"]
	assert.True(t, ok)

	failing := newS3Store(&fakeS3{objects: map[string][]byte{}, failPut: errors.New("connection reset")}, "packages", "")
	_, err = failing.Put(context.Background(), pkg)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	assert.True(t, xerrors.RetryableError(err))
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInitializationFailure))
}
