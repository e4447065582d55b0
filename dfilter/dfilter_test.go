package dfilter

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vitalvas/pktfilter/fieldtree"
	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/macro"
	"github.com/vitalvas/pktfilter/registry"
	"github.com/vitalvas/pktfilter/xlogger"
)

type packetBuilder struct {
	reg *registry.Snapshot
	b   *fieldtree.Builder
}

func newPacket(reg *registry.Snapshot) *packetBuilder {
	return &packetBuilder{reg: reg, b: fieldtree.NewBuilder()}
}

func (p *packetBuilder) proto(name, payload string) *packetBuilder {
	p.b.PushProtocol(p.reg.MustLookup(name), []byte(payload))
	return p
}

func (p *packetBuilder) add(name string, v ftype.Value) *packetBuilder {
	p.b.Add(p.reg.MustLookup(name), v)
	return p
}

func (p *packetBuilder) tree() *fieldtree.Tree {
	return p.b.Tree()
}

func ipValue(s string) ftype.Value {
	return ftype.IP(netip.MustParseAddr(s))
}

// httpPacket is an IP-in-IP encapsulated TCP segment.
func httpPacket(reg *registry.Snapshot) *fieldtree.Tree {
	return newPacket(reg).
		proto("frame", "").
		add("frame.number", ftype.UintValue(1)).
		add("frame.len", ftype.UintValue(74)).
		add("frame.time_epoch", ftype.FloatValue(1700000000.5)).
		proto("eth", "").
		add("eth.dst", ftype.BytesValue{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}).
		add("eth.src", ftype.BytesValue{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}).
		add("eth.type", ftype.UintValue(0x0800)).
		proto("ip", "").
		add("ip.ttl", ftype.UintValue(64)).
		add("ip.proto", ftype.UintValue(4)).
		add("ip.src", ipValue("10.0.0.1")).
		add("ip.dst", ipValue("192.168.1.10")).
		add("ip.addr", ipValue("10.0.0.1")).
		add("ip.addr", ipValue("192.168.1.10")).
		proto("ip", "").
		add("ip.ttl", ftype.UintValue(63)).
		add("ip.proto", ftype.UintValue(6)).
		add("ip.src", ipValue("172.16.0.1")).
		add("ip.dst", ipValue("172.16.0.2")).
		add("ip.addr", ipValue("172.16.0.1")).
		add("ip.addr", ipValue("172.16.0.2")).
		proto("tcp", "GET / HTTP/1.1").
		add("tcp.srcport", ftype.UintValue(443)).
		add("tcp.dstport", ftype.UintValue(80)).
		add("tcp.port", ftype.UintValue(443)).
		add("tcp.port", ftype.UintValue(80)).
		add("tcp.flags", ftype.UintValue(0x02)).
		add("tcp.flags.syn", ftype.BoolValue(true)).
		add("tcp.flags.ack", ftype.BoolValue(false)).
		add("tcp.payload", ftype.BytesValue("GET / HTTP/1.1")).
		tree()
}

func dnsPacket(reg *registry.Snapshot) *fieldtree.Tree {
	return newPacket(reg).
		proto("frame", "").
		add("frame.len", ftype.UintValue(90)).
		proto("ip", "").
		add("ip.src", ipValue("10.0.0.2")).
		add("ip.dst", ipValue("10.0.0.53")).
		proto("udp", "").
		add("udp.srcport", ftype.UintValue(5353)).
		add("udp.dstport", ftype.UintValue(53)).
		add("udp.port", ftype.UintValue(5353)).
		add("udp.port", ftype.UintValue(53)).
		proto("dns", "").
		add("dns.id", ftype.UintValue(0x1234)).
		add("dns.flags.response", ftype.BoolValue(false)).
		add("dns.qry.name", ftype.StringValue("www.Example.com")).
		tree()
}

var evaluationTests = []struct {
	filter   string
	packet   func(*registry.Snapshot) *fieldtree.Tree
	expected bool
}{
	{"tcp", httpPacket, true},
	{"udp", httpPacket, false},
	{"tcp.port == 80", httpPacket, true},
	{"tcp.port == 22", httpPacket, false},
	{"tcp.port === 80", httpPacket, false},
	{"tcp.port !== 22", httpPacket, true},
	{"tcp.port != 80", httpPacket, true},
	{"tcp.port !== 80", httpPacket, false},
	{"tcp.port in {22 80}", httpPacket, true},
	{"tcp.port not in {22 8080}", httpPacket, true},
	{"tcp.port in {1000..2000}", httpPacket, false},
	{"tcp.port in {400..500}", httpPacket, true},
	{"tcp.port in {22 400..500}", httpPacket, true},
	{"ip.src == 10.0.0.1", httpPacket, true},
	{"ip.src == 10.0.0.0/8", httpPacket, true},
	{"ip.src in {192.168.0.0/16 10.0.0.0/8}", httpPacket, true},
	{"ip.dst in {10.0.0.0/8}", httpPacket, false},
	{"ip.addr == 172.16.0.2", httpPacket, true},
	{"ip.src#2 == 172.16.0.1", httpPacket, true},
	{"ip.src#1 == 172.16.0.1", httpPacket, false},
	{"ip.src#-1 == 172.16.0.1", httpPacket, true},
	{"ip.src#3 == 172.16.0.1", httpPacket, false},
	{"ip.ttl > 32 and ip.ttl <= 64", httpPacket, true},
	{"32 < ip.ttl <= 64", httpPacket, true},
	{"ip.ttl#2 lt 64", httpPacket, true},
	{"eth.src == 00:11:22:33:44:55", httpPacket, true},
	{"eth.src == 00-11-22-33-44-55", httpPacket, true},
	{"eth.src[0:3] == 00:11:22", httpPacket, true},
	{"eth.src[-1] == 55", httpPacket, true},
	{"eth.src[0:2,4-5] == 00:11:44:55", httpPacket, true},
	{"eth.type == 0x0800", httpPacket, true},
	{`tcp.payload contains "HTTP"`, httpPacket, true},
	{`tcp contains "HTTP"`, httpPacket, true},
	{`tcp.payload matches "^GET /"`, httpPacket, true},
	{`tcp.payload ~ "^POST"`, httpPacket, false},
	{`tcp.payload[0:3] == "GET"`, httpPacket, true},
	{"tcp.payload[100:2] == 00", httpPacket, false},
	{"len(tcp.payload) == 14", httpPacket, true},
	{"count(tcp.port) == 2", httpPacket, true},
	{"count(ip.src) == 2", httpPacket, true},
	{"tcp.srcport + 1 == 444", httpPacket, true},
	{"tcp.srcport - -1 == 444", httpPacket, true},
	{"-1 + tcp.srcport == 442", httpPacket, true},
	{"frame.time_epoch < 1e10 * 1e10", httpPacket, true},
	{"frame.time_epoch > 1e-10 * 1e-10", httpPacket, true},
	{"frame.time_epoch < 1e308 * 10", httpPacket, true},
	{"frame.time_epoch < 2.5E+10", httpPacket, true},
	{"frame.time_epoch > 1.7e+9", httpPacket, true},
	{"frame.time_epoch in {-1.5 1700000000.5}", httpPacket, true},
	{"tcp.srcport - tcp.dstport == 363", httpPacket, true},
	{"tcp.dstport * 2 == 160", httpPacket, true},
	{"tcp.srcport % 100 == 43", httpPacket, true},
	{"tcp.srcport / 0 == 0", httpPacket, false},
	{"-tcp.dstport == -80", httpPacket, true},
	{"tcp.flags & 0x02 == 2", httpPacket, true},
	{"tcp.flags & 0x10", httpPacket, false},
	{"tcp.flags.syn", httpPacket, true},
	{"tcp.flags.ack", httpPacket, false},
	{"not tcp.flags.ack", httpPacket, true},
	{"tcp.flags.syn == 1", httpPacket, true},
	{"tcp.flags.syn and not udp", httpPacket, true},
	{"udp or tcp", httpPacket, true},
	{"tcp xor ip", httpPacket, false},
	{"tcp xor udp", httpPacket, true},
	{"frame.time_epoch > 1700000000", httpPacket, true},
	{"frame.len >= 60", httpPacket, true},
	{"max(tcp.srcport, tcp.dstport) == 443", httpPacket, true},
	{"min(tcp.srcport, tcp.dstport) == 80", httpPacket, true},
	{"abs(-5) == 5", httpPacket, true},
	{`string(tcp.srcport) == "443"`, httpPacket, true},
	{"ip.addr == 10.0.0.1", dnsPacket, false},
	{"udp.port == 53 and dns", dnsPacket, true},
	{`lower(dns.qry.name) == "www.example.com"`, dnsPacket, true},
	{`upper(dns.qry.name) contains "EXAMPLE"`, dnsPacket, true},
	{`dns.qry.name matches "(?i)example"`, dnsPacket, true},
	{`dns.qry.name == "www.example.com"`, dnsPacket, false},
	{`dns.qry.name in {"a" "www.Example.com"}`, dnsPacket, true},
	{"dns.flags.response == 0", dnsPacket, true},
	{"len(dns.qry.name) > 3", dnsPacket, true},
	{"dns.id == 0x1234", dnsPacket, true},
	{"tcp.port == 80 or udp.port == 53", dnsPacket, true},
}

func TestEvaluate(t *testing.T) {
	reg := registry.Default()

	for _, tt := range evaluationTests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Evaluate(tt.packet(reg)))

			unoptimized, err := Compile(tt.filter, reg, WithOptimize(false))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, unoptimized.Evaluate(tt.packet(reg)))
		})
	}
}

func TestEvaluateRoundTrip(t *testing.T) {
	reg := registry.Default()

	for _, tt := range evaluationTests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter, reg)
			require.NoError(t, err)

			again, err := Compile(f.String(), reg)
			require.NoError(t, err, "canonical text %q", f.String())

			assert.Equal(t, f.InterestingFields(), again.InterestingFields())
			assert.Equal(t, f.String(), again.String())
			assert.Equal(t, tt.expected, again.Evaluate(tt.packet(reg)))
		})
	}
}

func TestEvaluateLayers(t *testing.T) {
	reg := registry.Default()
	tree := newPacket(reg).
		proto("tcp", "").
		add("tcp.port", ftype.UintValue(443)).
		proto("tcp", "").
		add("tcp.port", ftype.UintValue(80)).
		tree()

	tests := []struct {
		filter   string
		expected bool
	}{
		{"tcp.port == 80", true},
		{"tcp.port == 443", true},
		{"tcp.port#1 == 80", false},
		{"tcp.port#2 == 80", true},
		{"tcp.port#-1 == 80", true},
		{"tcp.port#-2 == 443", true},
		{"tcp.port#3 == 80", false},
		{"tcp.port#3", false},
		{"tcp.port#2", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter, reg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f.Evaluate(tree))
		})
	}
}

func TestNullFilter(t *testing.T) {
	reg := registry.Default()

	for _, text := range []string{"", "   ", "\n\t"} {
		f, err := Compile(text, reg)
		require.NoError(t, err)
		require.NotNil(t, f)

		assert.True(t, f.Evaluate(nil))
		assert.True(t, f.Evaluate(httpPacket(reg)))
		assert.Empty(t, f.InterestingFields())
		assert.False(t, f.HasInterestingFields())
		assert.Equal(t, "", f.String())
		assert.Equal(t, "Filter matches all packets.\n", f.DumpString(0))
	}

	t.Run("nil filter never matches", func(t *testing.T) {
		var f *Filter
		assert.False(t, f.Evaluate(httpPacket(reg)))
		assert.Nil(t, f.InterestingFields())
		assert.Equal(t, "", f.Text())
	})

	t.Run("empty program never matches", func(t *testing.T) {
		f := &Filter{prog: &program{}}
		assert.False(t, f.Evaluate(httpPacket(reg)))
	})

	t.Run("nil tree", func(t *testing.T) {
		f, err := Compile("not tcp", reg)
		require.NoError(t, err)
		assert.True(t, f.Evaluate(nil))
	})
}

func TestConstantFilter(t *testing.T) {
	reg := registry.Default()

	f, err := Compile("1 == 2 and tcp.port == 80", reg)
	require.NoError(t, err)

	assert.False(t, f.Evaluate(httpPacket(reg)))
	assert.Empty(t, f.InterestingFields())
	assert.False(t, f.InterestedInField(reg.MustLookup("tcp.port")))
	assert.Equal(t, "false", f.String())
	assert.Equal(t, []string{`"1 == 2" is always false`}, f.Warnings())
	assert.Equal(t, "Instructions:\n 0000 PUSH          false\n 0001 RETURN\n", f.DumpString(DumpReferences))
}

type countingTree struct {
	tree    FieldTree
	fetches map[registry.FieldID]int
}

func (c *countingTree) FetchValues(id registry.FieldID, layer fieldtree.Layer) []ftype.Value {
	c.fetches[id]++
	return c.tree.FetchValues(id, layer)
}

func TestShortCircuit(t *testing.T) {
	reg := registry.Default()
	tcpPort := reg.MustLookup("tcp.port")
	udpPort := reg.MustLookup("udp.port")

	tests := []struct {
		filter   string
		expected bool
		skipped  registry.FieldID
	}{
		{filter: "tcp.port == 80 or udp.port == 53", expected: true, skipped: udpPort},
		{filter: "udp.port == 53 and tcp.port == 80", expected: false, skipped: tcpPort},
		{filter: "not (udp.port == 53) or tcp.port == 80", expected: true, skipped: tcpPort},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter, reg)
			require.NoError(t, err)

			tree := &countingTree{tree: httpPacket(reg), fetches: make(map[registry.FieldID]int)}
			assert.Equal(t, tt.expected, f.Evaluate(tree))
			assert.Zero(t, tree.fetches[tt.skipped])
		})
	}
}

func TestInterestingFields(t *testing.T) {
	reg := registry.Default()

	f, err := Compile("tcp.port == 80 and ip.src#2 == 10.0.0.1 and len(dns.qry.name) > 1", reg)
	require.NoError(t, err)

	expected := []registry.FieldID{reg.MustLookup("tcp.port"), reg.MustLookup("ip.src"), reg.MustLookup("dns.qry.name")}
	assert.ElementsMatch(t, expected, f.InterestingFields())
	assert.IsIncreasing(t, f.InterestingFields())
	assert.True(t, f.HasInterestingFields())

	assert.True(t, f.InterestedInField(reg.MustLookup("tcp.port")))
	assert.False(t, f.InterestedInField(reg.MustLookup("tcp.srcport")))
	assert.True(t, f.InterestedInProtocol(reg.MustLookup("tcp")))
	assert.True(t, f.InterestedInProtocol(reg.MustLookup("dns")))
	assert.False(t, f.InterestedInProtocol(reg.MustLookup("udp")))

	t.Run("protocol reference", func(t *testing.T) {
		f, err := Compile("udp", reg)
		require.NoError(t, err)
		assert.Equal(t, []registry.FieldID{reg.MustLookup("udp")}, f.InterestingFields())
		assert.True(t, f.InterestedInProtocol(reg.MustLookup("udp")))
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		fields := f.InterestingFields()
		fields[0] = registry.InvalidID
		assert.NotEqual(t, registry.InvalidID, f.InterestingFields()[0])
	})
}

func TestPrime(t *testing.T) {
	reg := registry.Default()

	f, err := Compile("tcp.port == 80", reg)
	require.NoError(t, err)

	b := fieldtree.NewBuilder()
	f.Prime(b)
	assert.True(t, b.Primed())
	assert.True(t, b.Wants(reg.MustLookup("tcp.port")))
	assert.False(t, b.Wants(reg.MustLookup("udp.port")))

	t.Run("primed tree evaluates the same", func(t *testing.T) {
		b.PushProtocol(reg.MustLookup("tcp"), nil)
		b.Add(reg.MustLookup("tcp.srcport"), ftype.UintValue(443))
		b.Add(reg.MustLookup("tcp.port"), ftype.UintValue(80))
		tree := b.Tree()

		assert.Empty(t, tree.FetchValues(reg.MustLookup("tcp.srcport"), fieldtree.AnyLayer))
		assert.True(t, f.Evaluate(tree))
	})

	t.Run("null filter leaves the builder alone", func(t *testing.T) {
		null, err := Compile("", reg)
		require.NoError(t, err)

		b := fieldtree.NewBuilder()
		null.Prime(b)
		assert.False(t, b.Primed())
	})
}

func TestMacros(t *testing.T) {
	reg := registry.NewBuilder().
		Protocol("bar", "Bar").
		Field("bar.x", "X", ftype.TypeUint8).
		Field("bar.y", "Y", ftype.TypeUint8).
		MustBuild()

	table, err := macro.NewTable(macro.Macro{Name: "foo", Body: "bar.x == $1 and bar.y == $2"})
	require.NoError(t, err)

	f, err := Compile("${foo:1;2}", reg, WithMacros(table))
	require.NoError(t, err)
	assert.Equal(t, "${foo:1;2}", f.Source())
	assert.Equal(t, "bar.x == 1 and bar.y == 2", f.Text())

	tree := newPacket(reg).
		proto("bar", "").
		add("bar.x", ftype.UintValue(1)).
		add("bar.y", ftype.UintValue(2)).
		tree()
	assert.True(t, f.Evaluate(tree))

	t.Run("unknown macro", func(t *testing.T) {
		_, err := Compile("bar and ${missing}", reg, WithMacros(table))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMacro)
	})

	t.Run("expansion disabled", func(t *testing.T) {
		_, err := Compile("${foo:1;2}", reg, WithMacros(table), WithoutMacroExpansion())
		assert.ErrorIs(t, err, ErrLex)
	})

	t.Run("no macro source", func(t *testing.T) {
		_, err := Compile("${foo:1;2}", reg)
		assert.ErrorIs(t, err, ErrLex)
	})
}

func TestDump(t *testing.T) {
	reg := registry.Default()

	t.Run("comparison", func(t *testing.T) {
		f, err := Compile("tcp.port == 80", reg)
		require.NoError(t, err)

		expected := "Instructions:\n" +
			" 0000 FETCH         tcp.port <uint16>\n" +
			" 0001 PUSH          80 <uint16>\n" +
			" 0002 CMP           any_eq\n" +
			" 0003 RETURN\n" +
			"\nReferences:\n" +
			"  tcp.port (uint16)\n"
		assert.Equal(t, expected, f.DumpString(DumpShowType|DumpReferences))

		var buf bytes.Buffer
		require.NoError(t, f.Dump(&buf, DumpShowType|DumpReferences))
		assert.Equal(t, expected, buf.String())
	})

	t.Run("short circuit", func(t *testing.T) {
		f, err := Compile("tcp or udp", reg)
		require.NoError(t, err)

		expected := "Instructions:\n" +
			" 0000 EXISTS        tcp\n" +
			" 0001 JUMP_IF_TRUE  0004\n" +
			" 0002 POP\n" +
			" 0003 EXISTS        udp\n" +
			" 0004 RETURN\n"
		assert.Equal(t, expected, f.DumpString(0))
	})

	t.Run("operands", func(t *testing.T) {
		f, err := Compile(`ip.src#2 in {10.0.0.0/8 192.168.1.1} and tcp.payload[0:3] matches "G.T" and len(tcp.payload) > tcp.srcport * 2`, reg)
		require.NoError(t, err)

		dump := f.DumpString(0)
		for _, want := range []string{
			"FETCH         ip.src#2",
			"IN_SET        {10.0.0.0/8 192.168.1.1}",
			"SLICE         [0:3]",
			`MATCH         "G.T"`,
			"CALL          len/1",
			"ARITH         *",
			"CMP           any_gt",
			"JUMP_IF_FALSE",
		} {
			assert.Contains(t, dump, want)
		}
	})

	t.Run("range", func(t *testing.T) {
		f, err := Compile("tcp.port in {8000..8080}", reg)
		require.NoError(t, err)
		assert.Contains(t, f.DumpString(0), "IN_RANGE      8000..8080")
	})
}

func TestCompileLogging(t *testing.T) {
	reg := registry.Default()

	var buf bytes.Buffer
	logger := xlogger.New(xlogger.Config{Level: "debug", LogType: "json", Output: &buf})

	_, err := Compile("tcp.port != 80", reg, WithLogger(logger), WithLexerTrace(), WithParserTrace())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"lexer token"`)
	assert.Contains(t, out, `"msg":"parser enter"`)
	assert.Contains(t, out, `"msg":"filter compiled"`)
	assert.Contains(t, out, `"msg":"filter warning"`)
	assert.Contains(t, out, `"filter":"tcp.port != 80"`)

	t.Run("info level skips the bytecode", func(t *testing.T) {
		var buf bytes.Buffer
		logger := xlogger.New(xlogger.Config{Level: "info", Output: &buf})

		_, err := Compile("tcp.port == 80", reg, WithLogger(logger))
		require.NoError(t, err)
		assert.Empty(t, buf.String())
	})
}

func TestFilterAccessors(t *testing.T) {
	reg := registry.Default()

	f, err := Compile("tcp.port == 80 && ip", reg, WithSaveTree())
	require.NoError(t, err)

	assert.Equal(t, "tcp.port == 80 && ip", f.Text())
	assert.Equal(t, "tcp.port == 80 && ip", f.Source())
	assert.Equal(t, "tcp.port == 80 and ip", f.String())
	assert.Equal(t, reg.Generation(), f.Generation())

	tree, ok := f.SyntaxTree()
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(tree, "AND\n"))

	t.Run("tree not saved", func(t *testing.T) {
		f, err := Compile("tcp", reg)
		require.NoError(t, err)
		_, ok := f.SyntaxTree()
		assert.False(t, ok)
	})

	t.Run("nil registry", func(t *testing.T) {
		_, err := Compile("tcp", nil)
		assert.ErrorIs(t, err, ErrUnknownField)

		f, err := Compile("1 < 2", nil)
		require.NoError(t, err)
		assert.True(t, f.Evaluate(nil))
	})
}

func TestConcurrentEvaluate(t *testing.T) {
	reg := registry.Default()

	f, err := Compile(`tcp.port in {80 443} and tcp.payload contains "HTTP" and ip.src#-1 == 172.16.0.1`, reg)
	require.NoError(t, err)

	packets := []*fieldtree.Tree{httpPacket(reg), dnsPacket(reg)}

	var g errgroup.Group
	results := make([]bool, 64)
	for i := range results {
		g.Go(func() error {
			for range 100 {
				results[i] = f.Evaluate(packets[i%len(packets)])
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i, got := range results {
		assert.Equal(t, i%2 == 0, got, "worker %d", i)
	}
}

func FuzzCompile(f *testing.F) {
	for _, tt := range evaluationTests {
		f.Add(tt.filter)
	}
	f.Add(`a in {`)
	f.Add(`tcp.payload[-1:1,0] == 00 xor not (1 + 2) * 3`)

	reg := registry.Default()
	packets := []*fieldtree.Tree{httpPacket(reg), dnsPacket(reg)}

	f.Fuzz(func(t *testing.T, text string) {
		filter, err := Compile(text, reg)
		if err != nil {
			var ferr *Error
			if !assert.ErrorAs(t, err, &ferr) {
				return
			}
			if ferr.Loc.Offset < 0 || ferr.Loc.Offset > len(text) {
				t.Fatalf("error location %v outside %q", ferr.Loc, text)
			}
			return
		}

		for _, p := range packets {
			filter.Evaluate(p)
		}
		_ = filter.DumpString(DumpShowType | DumpReferences)
	})
}
