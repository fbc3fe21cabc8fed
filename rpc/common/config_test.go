package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerShard(t *testing.T) {
	cases := []struct {
		def  string
		want ServerShard
	}{
		{"100=lstore", ServerShard{ShardID: 100, Type: ShardTypeLocal, Engine: EngineMemory}},
		{" 101 = lstore(pebble:data/101)", ServerShard{ShardID: 101, Type: ShardTypeLocal, Engine: EnginePebble, Path: "data/101"}},
		{"102=dstore(bolt:/tmp/102.db)", ServerShard{ShardID: 102, Type: ShardTypeRaft, Engine: EngineBolt, Path: "/tmp/102.db"}},
		{"103=dstore(memory)", ServerShard{ShardID: 103, Type: ShardTypeRaft, Engine: EngineMemory}},
		{"200=overlay(100)", ServerShard{ShardID: 200, Type: ShardTypeOverlay, Engine: EngineMemory, Base: 100}},
	}
	for _, c := range cases {
		t.Run(c.def, func(t *testing.T) {
			got, err := ParseServerShard(c.def)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)

			again, err := ParseServerShard(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}

	for _, bad := range []string{
		"100",
		"x=lstore",
		"100=lockmgr",
		"100=lstore(pebble)",
		"100=lstore(rocks:dir)",
		"100=lstore(memory",
		"200=overlay",
		"200=overlay(200)",
	} {
		_, err := ParseServerShard(bad)
		assert.Error(t, err, bad)
	}
}

func TestServerConfigValidate(t *testing.T) {
	parse := func(defs ...string) *ServerConfig {
		c := &ServerConfig{}
		for _, def := range defs {
			shard, err := ParseServerShard(def)
			require.NoError(t, err)
			c.Shards = append(c.Shards, shard)
		}
		return c
	}

	assert.NoError(t, parse("100=lstore", "200=overlay(100)", "201=overlay(100)").Validate())
	assert.Error(t, parse("100=lstore", "100=dstore").Validate(), "duplicate id")
	assert.Error(t, parse("200=overlay(100)").Validate(), "missing base")
	assert.Error(t, parse("100=lstore", "200=overlay(100)", "300=overlay(200)").Validate(), "overlay base")

	assert.False(t, parse("100=lstore").HasRaftShard())
	assert.True(t, parse("100=lstore", "101=dstore").HasRaftShard())
}

func TestClientConfigPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, (&ClientConfig{}).EffectivePageSize())
	assert.Equal(t, 7, (&ClientConfig{PageSize: 7}).EffectivePageSize())
}
