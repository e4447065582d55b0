package fieldtree

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

const (
	protoIP registry.FieldID = iota + 1
	fieldIPAddr
	protoTCP
	fieldTCPPort
)

func ipv4(s string) ftype.Value {
	return ftype.IP(netip.MustParseAddr(s))
}

// tunnel builds ip(10.0.0.1 -> 10.0.0.2) / ip(192.168.0.1 -> 192.168.0.2) / tcp(1234 -> 80).
func tunnel(b *Builder) *Tree {
	b.PushProtocol(protoIP, []byte{0x45})
	b.Add(fieldIPAddr, ipv4("10.0.0.1"))
	b.Add(fieldIPAddr, ipv4("10.0.0.2"))
	b.PushProtocol(protoIP, []byte{0x45})
	b.Add(fieldIPAddr, ipv4("192.168.0.1"))
	b.Add(fieldIPAddr, ipv4("192.168.0.2"))
	b.PushProtocol(protoTCP, nil)
	b.Add(fieldTCPPort, ftype.UintValue(1234))
	b.Add(fieldTCPPort, ftype.UintValue(80))
	return b.Tree()
}

func TestLayer(t *testing.T) {
	assert.True(t, AnyLayer.Any())
	assert.Equal(t, "any", AnyLayer.String())
	assert.False(t, LayerN(2).Any())
	assert.Equal(t, 2, LayerN(2).Index())
	assert.Equal(t, "#-1", LayerN(-1).String())
}

func TestFetchValues(t *testing.T) {
	tree := tunnel(NewBuilder())

	tests := []struct {
		name  string
		field registry.FieldID
		layer Layer
		want  []ftype.Value
	}{
		{"any layer", fieldIPAddr, AnyLayer, []ftype.Value{ipv4("10.0.0.1"), ipv4("10.0.0.2"), ipv4("192.168.0.1"), ipv4("192.168.0.2")}},
		{"outer layer", fieldIPAddr, LayerN(1), []ftype.Value{ipv4("10.0.0.1"), ipv4("10.0.0.2")}},
		{"inner layer", fieldIPAddr, LayerN(2), []ftype.Value{ipv4("192.168.0.1"), ipv4("192.168.0.2")}},
		{"last layer", fieldIPAddr, LayerN(-1), []ftype.Value{ipv4("192.168.0.1"), ipv4("192.168.0.2")}},
		{"first from end", fieldIPAddr, LayerN(-2), []ftype.Value{ipv4("10.0.0.1"), ipv4("10.0.0.2")}},
		{"missing layer", fieldIPAddr, LayerN(3), nil},
		{"before first layer", fieldIPAddr, LayerN(-3), nil},
		{"tcp", fieldTCPPort, AnyLayer, []ftype.Value{ftype.UintValue(1234), ftype.UintValue(80)}},
		{"protocol value", protoTCP, AnyLayer, []ftype.Value{ftype.BytesValue(nil)}},
		{"absent", registry.FieldID(99), AnyLayer, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tree.FetchValues(tt.field, tt.layer)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 2, tree.Layers(protoIP))
	assert.Equal(t, 1, tree.Layers(protoTCP))
	assert.Equal(t, 9, tree.Len())
}

func TestNilTree(t *testing.T) {
	var tree *Tree
	assert.Nil(t, tree.FetchValues(fieldIPAddr, AnyLayer))
	assert.Equal(t, 0, tree.Len())
	assert.Equal(t, 0, tree.Layers(protoIP))
	tree.Walk(func(Entry) bool {
		t.Fatal("walk on nil tree")
		return true
	})
}

func TestWalk(t *testing.T) {
	tree := tunnel(NewBuilder())

	var layers []int
	tree.Walk(func(e Entry) bool {
		if e.Field == fieldIPAddr {
			layers = append(layers, e.Layer)
		}
		return true
	})
	assert.Equal(t, []int{1, 1, 2, 2}, layers)

	count := 0
	tree.Walk(func(Entry) bool {
		count++
		return count < 3
	})
	assert.Equal(t, 3, count)
}

func TestPrimedBuilder(t *testing.T) {
	b := NewBuilder()
	assert.False(t, b.Primed())
	assert.True(t, b.Wants(fieldIPAddr))

	b.Prime(fieldTCPPort)
	assert.True(t, b.Primed())
	assert.False(t, b.Wants(fieldIPAddr))
	assert.True(t, b.Wants(fieldTCPPort))

	tree := tunnel(b)
	assert.Empty(t, tree.FetchValues(fieldIPAddr, AnyLayer))
	assert.Len(t, tree.FetchValues(fieldTCPPort, AnyLayer), 2)
	assert.Equal(t, 2, tree.Layers(protoIP), "layers are counted even when not recorded")

	second := tunnel(b)
	require.NotSame(t, tree, second)
	assert.Len(t, second.FetchValues(fieldTCPPort, AnyLayer), 2, "priming survives Tree()")
}

func TestAddNilValue(t *testing.T) {
	b := NewBuilder()
	b.PushProtocol(protoTCP, nil)
	b.Add(fieldTCPPort, nil)
	assert.Empty(t, b.Tree().FetchValues(fieldTCPPort, AnyLayer))
}

func BenchmarkFetchValues(b *testing.B) {
	tree := tunnel(NewBuilder())

	b.Run("any", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			tree.FetchValues(fieldIPAddr, AnyLayer)
		}
	})

	b.Run("layer", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			tree.FetchValues(fieldIPAddr, LayerN(-1))
		}
	})
}
