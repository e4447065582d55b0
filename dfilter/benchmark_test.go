package dfilter

import (
	"testing"

	"github.com/vitalvas/pktfilter/registry"
)

var benchmarkFilters = []struct {
	name   string
	filter string
}{
	{name: "simple equality", filter: `tcp.port == 80`},
	{name: "multiple conditions", filter: `tcp.port == 80 and ip.src == 10.0.0.1 and not udp`},
	{name: "cidr set", filter: `ip.addr in {10.0.0.0/8 172.16.0.0/12 192.168.0.0/16}`},
	{name: "port set", filter: `tcp.port in {22 25 53 80 443 8000..8080}`},
	{name: "layer and slice", filter: `ip.src#-1 == 172.16.0.1 and eth.src[0:3] == 00:11:22`},
	{name: "payload", filter: `tcp.payload contains "HTTP" and tcp.payload matches "^GET "`},
	{name: "functions", filter: `len(tcp.payload) > 10 and max(tcp.srcport, tcp.dstport) == 443`},
}

func BenchmarkCompile(b *testing.B) {
	reg := registry.Default()

	for _, tt := range benchmarkFilters {
		b.Run(tt.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := Compile(tt.filter, reg); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEvaluate(b *testing.B) {
	reg := registry.Default()
	tree := httpPacket(reg)

	for _, tt := range benchmarkFilters {
		f, err := Compile(tt.filter, reg)
		if err != nil {
			b.Fatal(err)
		}

		b.Run(tt.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				f.Evaluate(tree)
			}
		})
	}
}

func BenchmarkEvaluateParallel(b *testing.B) {
	reg := registry.Default()
	tree := httpPacket(reg)

	f, err := Compile(`tcp.port in {80 443} and ip.addr in {10.0.0.0/8} and tcp.flags.syn`, reg)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			f.Evaluate(tree)
		}
	})
}

func BenchmarkLexer(b *testing.B) {
	const input = `ip.src in {10.0.0.0/8 2001:db8::/32} and eth.src == 00:11:22:33:44:55 and tcp.payload[0:4] contains "HTTP"`

	b.ReportAllocs()
	for b.Loop() {
		if _, err := NewLexer(input).Tokens(); err != nil {
			b.Fatal(err)
		}
	}
}
