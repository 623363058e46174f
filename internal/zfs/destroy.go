package zfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/ixsystems/zlinkd/internal/util/envconst"
)

// DestroySnapOp is one requested snapshot destroy, batched with others on
// the same filesystem before being issued to `zfs destroy`.
type DestroySnapOp struct {
	Filesystem string
	Name       string
	ErrOut     *error
}

func (o *DestroySnapOp) String() string {
	return fmt.Sprintf("destroy operation %s@%s", o.Filesystem, o.Name)
}

// DestroySnapshotsError reports which of a batch destroy's snapshots ZFS
// refused to remove (e.g. held, or a clone origin).
type DestroySnapshotsError struct {
	RawErr        string
	Undestroyable []string
}

func (e *DestroySnapshotsError) Error() string { return e.RawErr }

type destroyer interface {
	Destroy(ctx context.Context, args []string) error
}

var destroyerSingleton destroyer = destroyerImpl{}

// DestroySnapshots destroys the given (filesystem, name) pairs, batching
// same-filesystem destroys into a single `zfs destroy fs@a,b,c` call and
// bisecting on E2BIG, mirroring the invariant that ClearSnapshots ("destroy
// everything under R") and DeleteSnapshots ("destroy exactly these") both
// reduce to this same batched primitive.
func DestroySnapshots(ctx context.Context, reqs []*DestroySnapOp) {
	doDestroy(ctx, reqs, destroyerSingleton)
}

func setDestroySnapOpErr(b []*DestroySnapOp, err error) {
	for _, r := range b {
		*r.ErrOut = err
	}
}

func doDestroy(ctx context.Context, reqs []*DestroySnapOp, d destroyer) {
	var validated []*DestroySnapOp
	for _, req := range reqs {
		switch {
		case req.Filesystem == "":
			*req.ErrOut = errors.New("zfs: Filesystem must not be empty")
		case req.Name == "":
			*req.ErrOut = errors.New("zfs: Name must not be empty")
		default:
			validated = append(validated, req)
		}
	}
	doDestroyBatched(ctx, validated, d)
}

func doDestroySeq(ctx context.Context, reqs []*DestroySnapOp, d destroyer) {
	for _, r := range reqs {
		*r.ErrOut = d.Destroy(ctx, []string{fmt.Sprintf("%s@%s", r.Filesystem, r.Name)})
	}
}

func doDestroyBatched(ctx context.Context, reqs []*DestroySnapOp, d destroyer) {
	for _, fsbatch := range buildBatches(reqs) {
		doDestroyBatchedRec(ctx, fsbatch, d)
	}
}

func buildBatches(reqs []*DestroySnapOp) [][]*DestroySnapOp {
	if len(reqs) == 0 {
		return nil
	}
	sorted := make([]*DestroySnapOp, len(reqs))
	copy(sorted, reqs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := strings.Compare(sorted[i].Filesystem, sorted[j].Filesystem); c != 0 {
			return c < 0
		}
		return strings.Compare(sorted[i].Name, sorted[j].Name) < 0
	})

	var perFS [][]*DestroySnapOp
	consumed := 0
	maxBatchSize := envconst.Int("ZLINKD_DESTROY_MAX_BATCH_SIZE", 0)
	for consumed < len(sorted) {
		until := consumed
		for until < len(sorted) &&
			(maxBatchSize < 1 || until-consumed < maxBatchSize) &&
			sorted[until].Filesystem == sorted[consumed].Filesystem {
			until++
		}
		perFS = append(perFS, sorted[consumed:until])
		consumed = until
	}
	return perFS
}

// tryBatch requires every op in batch to share a filesystem; panics otherwise.
func tryBatch(ctx context.Context, batch []*DestroySnapOp, d destroyer) error {
	if len(batch) == 0 {
		return nil
	}
	fs := batch[0].Filesystem
	names := make([]string, len(batch))
	for i := range batch {
		names[i] = batch[i].Name
		if batch[i].Filesystem != fs {
			panic("zfs: inconsistent destroy batch")
		}
	}
	return d.Destroy(ctx, []string{fmt.Sprintf("%s@%s", fs, strings.Join(names, ","))})
}

func doDestroyBatchedRec(ctx context.Context, fsbatch []*DestroySnapOp, d destroyer) {
	if len(fsbatch) <= 1 {
		doDestroySeq(ctx, fsbatch, d)
		return
	}

	err := tryBatch(ctx, fsbatch, d)
	if err == nil {
		setDestroySnapOpErr(fsbatch, nil)
		return
	}

	var pe *os.PathError
	if errors.As(err, &pe) && errors.Is(pe.Err, syscall.E2BIG) {
		doDestroyBatchedRec(ctx, fsbatch[:len(fsbatch)/2], d)
		doDestroyBatchedRec(ctx, fsbatch[len(fsbatch)/2:], d)
		return
	}

	singleRun := fsbatch
	var errDestroy *DestroySnapshotsError
	if errors.As(err, &errDestroy) {
		var stripped, remaining []*DestroySnapOp
		for _, b := range fsbatch {
			undestroyable := false
			for _, u := range errDestroy.Undestroyable {
				if u == b.Name {
					undestroyable = true
					break
				}
			}
			if undestroyable {
				remaining = append(remaining, b)
			} else {
				stripped = append(stripped, b)
			}
		}
		if err := tryBatch(ctx, stripped, d); err != nil {
			singleRun = fsbatch
		} else {
			setDestroySnapOpErr(stripped, nil)
			singleRun = remaining
		}
	}
	doDestroySeq(ctx, singleRun, d)
}

type destroyerImpl struct{}

func (destroyerImpl) Destroy(ctx context.Context, args []string) error {
	if len(args) != 1 {
		panic(fmt.Sprintf("zfs: unexpected number of destroy arguments: %v", args))
	}
	if !strings.ContainsAny(args[0], "@") {
		panic(fmt.Sprintf("zfs: expecting '@' in destroy argument, got %q", args[0]))
	}
	_, err := run(ctx, "destroy", args[0])
	return err
}
