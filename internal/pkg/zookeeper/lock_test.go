package zookeeper

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceOrdersProtectedNodes(t *testing.T) {
	nodes := []string{
		"_c_b3f1-lock-0000000012",
		"_c_0a9e-lock-0000000003",
		"_c_ffff-lock-0000000007",
	}
	sort.Slice(nodes, func(i, j int) bool { return sequence(nodes[i]) < sequence(nodes[j]) })
	assert.Equal(t, "_c_0a9e-lock-0000000003", nodes[0])
	assert.Equal(t, "_c_b3f1-lock-0000000012", nodes[2])
}

func TestConnectRequiresServers(t *testing.T) {
	_, err := Connect(nil, 0)
	assert.Error(t, err)
}
