package consensus

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	"github.com/jmsadair/roster/logstore"
	"github.com/jmsadair/roster/registry"
)

const (
	defaultApplyTimeout  = 500 * time.Millisecond
	transportTimeout     = 10 * time.Second
	maxPool              = 5
	numSnapshotsToRetain = 10
)

func timeoutFromContext(ctx context.Context, defaultTimeout time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			return remaining
		}
	}
	return defaultTimeout
}

// Status describes the raft cluster hosting the registry.
type Status struct {
	// Maps node IDs to raft addresses.
	Members map[string]string
	// The ID of the current leader, empty if there is none.
	Leader string
}

// BackendConfig configures a Backend.
type BackendConfig struct {
	// The unique ID of this node within the raft cluster.
	ID string
	// The address the raft transport listens on.
	BindAddress string
	// The address other nodes use to reach this node. Defaults to BindAddress.
	AdvertiseAddress string
	// The directory holding the raft log and metadata.
	StoragePath string
	// The directory holding raft snapshots.
	SnapshotStoragePath string
	// Whether this node should bootstrap a new cluster. Ignored if the node already has raft state.
	Bootstrap bool
	// The level raft logs at. Defaults to warn.
	LogLevel hclog.Level
}

// Backend replicates registry commands through raft.
type Backend struct {
	ID               string
	AdvertiseAddress string
	BindAddress      string
	raft             *raft.Raft
	fsm              *FSM
	store            *logstore.PersistentStorage
}

// NewBackend starts a raft node that applies committed commands to the provided FSM.
func NewBackend(cfg BackendConfig, fsm *FSM) (*Backend, error) {
	if cfg.AdvertiseAddress == "" {
		cfg.AdvertiseAddress = cfg.BindAddress
	}
	if cfg.LogLevel == hclog.NoLevel {
		cfg.LogLevel = hclog.Warn
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  cfg.LogLevel,
		Output: os.Stderr,
	})

	store, err := logstore.NewPersistentStorage(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	advertise, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddress)
	if err != nil {
		store.Close()
		return nil, err
	}
	tn, err := raft.NewTCPTransportWithLogger(cfg.BindAddress, advertise, maxPool, transportTimeout, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(cfg.SnapshotStoragePath, numSnapshotsToRetain, logger)
	if err != nil {
		tn.Close()
		store.Close()
		return nil, err
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.ID)
	config.Logger = logger

	hasState, err := raft.HasExistingState(store, store, snapshotStore)
	if err != nil {
		tn.Close()
		store.Close()
		return nil, err
	}

	r, err := raft.NewRaft(config, fsm, store, store, snapshotStore, tn)
	if err != nil {
		tn.Close()
		store.Close()
		return nil, err
	}

	if cfg.Bootstrap && !hasState {
		clusterConfig := raft.Configuration{Servers: []raft.Server{{ID: config.LocalID, Address: tn.LocalAddr()}}}
		future := r.BootstrapCluster(clusterConfig)
		if err := future.Error(); err != nil {
			r.Shutdown()
			store.Close()
			return nil, err
		}
	}

	return &Backend{
		ID:               cfg.ID,
		AdvertiseAddress: cfg.AdvertiseAddress,
		BindAddress:      cfg.BindAddress,
		raft:             r,
		fsm:              fsm,
		store:            store,
	}, nil
}

// Shutdown stops the raft node and closes its storage.
func (b *Backend) Shutdown() error {
	defer b.store.Close()
	future := b.raft.Shutdown()
	return future.Error()
}

// AddMember replicates the addition of a member on behalf of a verified caller.
// It returns the member list after the addition, or the reason the registry rejected it.
func (b *Backend) AddMember(ctx context.Context, caller registry.Identity, member registry.Identity) ([]registry.Identity, error) {
	return b.apply(ctx, &Command{Op: OpAddMember, Caller: caller, Member: member})
}

// RemoveMember replicates the removal of a member on behalf of a verified caller.
// It returns the member list after the removal, or the reason the registry rejected it.
func (b *Backend) RemoveMember(ctx context.Context, caller registry.Identity, member registry.Identity) ([]registry.Identity, error) {
	return b.apply(ctx, &Command{Op: OpRemoveMember, Caller: caller, Member: member})
}

// Members returns the member list once this node has confirmed it is still the leader.
func (b *Backend) Members(ctx context.Context) ([]registry.Identity, error) {
	if err := b.raft.VerifyLeader().Error(); err != nil {
		return nil, handleError(err)
	}
	return b.fsm.Members()
}

// Size returns the number of members known to this node's replica.
func (b *Backend) Size() int {
	return b.fsm.Len()
}

// JoinCluster adds a voter to the raft cluster.
// Adding a node that is already part of the cluster with the same ID and address is a no-op.
func (b *Backend) JoinCluster(ctx context.Context, nodeID string, address string) error {
	configFuture := b.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return handleError(err)
	}

	for _, srv := range configFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(nodeID) || srv.Address == raft.ServerAddress(address) {
			if srv.Address == raft.ServerAddress(address) && srv.ID == raft.ServerID(nodeID) {
				return nil
			}
			return ErrNodeExists
		}
	}

	indexFuture := b.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, timeoutFromContext(ctx, defaultApplyTimeout))
	return handleError(indexFuture.Error())
}

// RemoveFromCluster removes a node from the raft cluster. Removing an unknown node is a no-op.
func (b *Backend) RemoveFromCluster(ctx context.Context, nodeID string) error {
	configFuture := b.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return handleError(err)
	}

	for _, srv := range configFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(nodeID) {
			indexFuture := b.raft.RemoveServer(raft.ServerID(nodeID), 0, timeoutFromContext(ctx, defaultApplyTimeout))
			return handleError(indexFuture.Error())
		}
	}

	return nil
}

// ClusterStatus returns the nodes in the raft cluster and the current leader.
func (b *Backend) ClusterStatus() (Status, error) {
	_, leaderID := b.raft.LeaderWithID()

	configFuture := b.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return Status{}, handleError(err)
	}
	nodeIDToAddr := make(map[string]string, len(configFuture.Configuration().Servers))
	for _, srv := range configFuture.Configuration().Servers {
		nodeIDToAddr[string(srv.ID)] = string(srv.Address)
	}

	return Status{Members: nodeIDToAddr, Leader: string(leaderID)}, nil
}

// LeaderCh signals changes in the leadership of this node.
func (b *Backend) LeaderCh() <-chan bool {
	return b.raft.LeaderCh()
}

// LeaderAddressAndID returns the raft address and ID of the current leader.
func (b *Backend) LeaderAddressAndID() (string, string) {
	addr, id := b.raft.LeaderWithID()
	return string(addr), string(id)
}

func (b *Backend) apply(ctx context.Context, cmd *Command) ([]registry.Identity, error) {
	future := b.raft.Apply(cmd.Bytes(), timeoutFromContext(ctx, defaultApplyTimeout))
	if err := future.Error(); err != nil {
		return nil, handleError(err)
	}
	result := future.Response().(*ApplyResult)
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Members, nil
}
