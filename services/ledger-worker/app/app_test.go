package app

import (
	"testing"

	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/configs"
	"github.com/stretchr/testify/assert"
)

func TestReadReplicas(t *testing.T) {
	tests := []struct {
		name string
		cfg  configs.Config
		want []string
	}{
		{"primary by default", configs.Config{ReadDbAddr: "replica:5432/ledger"}, nil},
		{"opted in", configs.Config{ReadDbAddr: "replica:5432/ledger", ReadFromReplica: true}, []string{"replica:5432/ledger"}},
		{"opted in without address", configs.Config{ReadFromReplica: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readReplicas(&tt.cfg))
		})
	}
}
