package coordination

import (
	"encoding/json"

	"github.com/couchbase/stellar-distributed/common/membership"
)

type TFCluster struct {
	Worker []string `json:"worker"`
}

type TFTask struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// TFConfig is the cluster description multi-worker strategies read from the
// TF_CONFIG environment variable.
type TFConfig struct {
	Cluster TFCluster `json:"cluster"`
	Task    TFTask    `json:"task"`
}

func NewTFConfig(snap *membership.Snapshot, port int) (*TFConfig, error) {
	workers, err := WorkerAddresses(snap.Members(), port)
	if err != nil {
		return nil, err
	}

	me, err := snap.Me()
	if err != nil {
		return nil, err
	}

	return &TFConfig{
		Cluster: TFCluster{
			Worker: workers,
		},
		Task: TFTask{
			Type:  "worker",
			Index: me.Rank(),
		},
	}, nil
}

func (c *TFConfig) Marshal() ([]byte, error) {
	return json.Marshal(c)
}
