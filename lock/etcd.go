package lock

import (
	"context"
	"fmt"
	"math"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdClient is the part of *clientv3.Client the locker uses.
type etcdClient interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

// EtcdLocker writes a lease-bound key per invoice, created only if absent.
// The key disappears with its lease, so no release is needed.
type EtcdLocker struct {
	client  etcdClient
	rootKey string
	owner   string
}

func NewEtcdLocker(client *clientv3.Client, rootKey, owner string) *EtcdLocker {
	return newEtcdLocker(client, rootKey, owner)
}

func newEtcdLocker(client etcdClient, rootKey, owner string) *EtcdLocker {
	return &EtcdLocker{client: client, rootKey: rootKey, owner: owner}
}

// leaseSeconds rounds ttl up to whole seconds, with a floor of one.
func leaseSeconds(ttl time.Duration) int64 {
	s := int64(math.Ceil(ttl.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func (l *EtcdLocker) key(invoiceID string) string {
	return path.Join(l.rootKey, invoiceID)
}

func (l *EtcdLocker) TryAcquire(ctx context.Context, invoiceID string, ttl time.Duration) (bool, error) {
	lease, err := l.client.Grant(ctx, leaseSeconds(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to grant etcd lease: %w", err)
	}

	key := l.key(invoiceID)
	resp, err := l.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, l.owner, clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	if !resp.Succeeded {
		// nobody else will ever attach to this lease
		_, _ = l.client.Revoke(ctx, lease.ID)
		return false, nil
	}
	return true, nil
}
