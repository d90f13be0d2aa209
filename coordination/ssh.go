package coordination

import (
	"github.com/couchbase/stellar-distributed/common/membership"
)

// SSHPlan describes the trust topology for launching over ssh: the master
// connects out to every worker, the workers only accept connections.
type SSHPlan struct {
	IsMaster bool     `json:"is_master"`
	Self     string   `json:"self"`
	Master   string   `json:"master"`
	Workers  []string `json:"workers"`
	// the group name doubles as the key seed so every member derives the
	// same keypair.
	KeySeed string `json:"key_seed"`
}

func PlanSSH(snap *membership.Snapshot) (*SSHPlan, error) {
	me, err := snap.Me()
	if err != nil {
		return nil, err
	}

	master, err := snap.Master()
	if err != nil {
		return nil, err
	}

	self, err := PrimaryAddress(me)
	if err != nil {
		return nil, err
	}

	masterAddr, err := PrimaryAddress(master)
	if err != nil {
		return nil, err
	}

	// members sharing a host only need to be visited once
	seen := map[string]bool{masterAddr: true}
	var workers []string
	for _, m := range snap.Members() {
		ip, err := PrimaryAddress(m)
		if err != nil {
			return nil, err
		}

		if seen[ip] {
			continue
		}
		seen[ip] = true
		workers = append(workers, ip)
	}

	return &SSHPlan{
		IsMaster: me.IsMaster(),
		Self:     self,
		Master:   masterAddr,
		Workers:  workers,
		KeySeed:  snap.GroupName(),
	}, nil
}
