package volume

import (
	"context"
	"io"

	"github.com/brineio/silo/pkg/health"
	"github.com/brineio/silo/pkg/log"
)

// NetworkVolume is a Volume backed by a remote filesystem (NFS, Ceph, or
// similar) mounted locally at MountPath, with an additional reachability
// probe against the backend's management endpoint before the canary
// round-trip is trusted.
type NetworkVolume struct {
	*LocalVolume

	backendAddr string
	tcpCheck    *health.TCPChecker
}

// NewNetworkVolume wraps a LocalVolume with a TCP reachability probe for the
// network backend that serves mountPath.
func NewNetworkVolume(id, mountPath string, shardingDepth int, backendAddr string) (*NetworkVolume, error) {
	local, err := NewLocalVolume(id, mountPath, shardingDepth)
	if err != nil {
		return nil, err
	}

	return &NetworkVolume{
		LocalVolume: local,
		backendAddr: backendAddr,
		tcpCheck:    health.NewTCPChecker(backendAddr),
	}, nil
}

// Read delegates to the underlying local mount.
func (v *NetworkVolume) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	return v.LocalVolume.Read(ctx, path)
}

// Write delegates to the underlying local mount.
func (v *NetworkVolume) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	return v.LocalVolume.Write(ctx, path, r)
}

// IsHealthy first confirms the backend is reachable over TCP, then falls
// back to the canary write/read/delete round-trip used for local volumes.
func (v *NetworkVolume) IsHealthy(ctx context.Context) bool {
	reach := v.tcpCheck.Check(ctx)
	if !reach.Healthy {
		log.WithVolume(v.ID()).Warn().
			Str("backend", v.backendAddr).
			Str("reason", reach.Message).
			Msg("network volume backend unreachable")
		return false
	}

	return v.LocalVolume.IsHealthy(ctx)
}

// BackendAddr returns the network address this volume probes for
// reachability before trusting the canary check.
func (v *NetworkVolume) BackendAddr() string {
	return v.backendAddr
}

var _ Volume = (*NetworkVolume)(nil)
