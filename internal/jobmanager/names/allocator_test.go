package names

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/pkg/api"
)

var dnsLabel = regexp.MustCompile(`^[a-z]([-a-z0-9]*[a-z0-9])?$`)

type fakeOwners map[string]api.Owner

func (f fakeOwners) Owner(_ *ucontext.Context, jobId string) (api.Owner, error) {
	owner, ok := f[jobId]
	if !ok {
		return api.Owner{}, errors.WithStack(&uclouderrors.ErrNotFound{Type: "job", Value: jobId})
	}
	return owner, nil
}

type fakeUids map[string]int64

func (f fakeUids) Uid(_ *ucontext.Context, username string) (int64, error) {
	uid, ok := f[username]
	if !ok {
		return 0, fmt.Errorf("no uid for %s", username)
	}
	return uid, nil
}

func TestNameRoundTrip(t *testing.T) {
	allocator := NewAllocator("ucloud-apps", false, nil, nil)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		jobId := strconv.FormatInt(r.Int63(), 10)
		name := allocator.IdToName(jobId)
		assert.Equal(t, jobId, allocator.NameToId(name))
		assert.Regexp(t, dnsLabel, name)
		assert.LessOrEqual(t, len(name), 63)
		assert.True(t, allocator.IsJobName(name))
	}
}

func TestIdToName(t *testing.T) {
	allocator := NewAllocator("ucloud-apps", false, nil, nil)
	assert.Equal(t, "j-42", allocator.IdToName("42"))
	assert.False(t, allocator.IsJobName("j-"))
	assert.False(t, allocator.IsJobName("kube-dns"))
}

func TestIdToNamespace_Fixed(t *testing.T) {
	allocator := NewAllocator("ucloud-apps", false, fakeOwners{}, fakeUids{})
	namespace, err := allocator.IdToNamespace(ucontext.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "ucloud-apps", namespace)
}

func TestIdToNamespace_FairShare(t *testing.T) {
	owners := fakeOwners{
		"1": {CreatedBy: "alice"},
		"2": {CreatedBy: "alice", Project: "Proj1"},
	}
	allocator := NewAllocator("ucloud-apps", true, owners, fakeUids{"alice": 1000})

	namespace, err := allocator.IdToNamespace(ucontext.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "app-u-1000", namespace)

	namespace, err = allocator.IdToNamespace(ucontext.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "app-p-proj1", namespace)

	_, err = allocator.IdToNamespace(ucontext.Background(), "3")
	var notFound *uclouderrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound))
}
