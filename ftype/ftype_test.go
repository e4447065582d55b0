package ftype

import (
	"net/netip"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeDescriptors(t *testing.T) {
	tests := []struct {
		typ     Type
		name    string
		class   Class
		bits    int
		signed  bool
		ordered bool
	}{
		{TypeUint16, "uint16", ClassInteger, 16, false, true},
		{TypeInt32, "int32", ClassInteger, 32, true, true},
		{TypeBool, "bool", ClassBool, 1, false, false},
		{TypeString, "string", ClassString, 0, false, false},
		{TypeEther, "ether", ClassBytes, 48, false, true},
		{TypeIPv6, "ipv6", ClassIP, 128, false, true},
		{TypeProtocol, "protocol", ClassProtocol, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.typ.String())
			assert.Equal(t, tt.class, tt.typ.Class())
			assert.Equal(t, tt.bits, tt.typ.Bits())
			assert.Equal(t, tt.signed, tt.typ.Signed())
			assert.Equal(t, tt.ordered, tt.typ.Ordered())
		})
	}

	assert.Equal(t, "Type(200)", Type(200).String())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("UINT32")
	require.NoError(t, err)
	assert.Equal(t, TypeUint32, typ)

	typ, err = ParseType("mac")
	require.NoError(t, err)
	assert.Equal(t, TypeEther, typ)

	_, err = ParseType("none")
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = ParseType("quaternion")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestComparable(t *testing.T) {
	assert.True(t, Comparable(TypeUint8, TypeInt64))
	assert.True(t, Comparable(TypeUint8, TypeFloat))
	assert.True(t, Comparable(TypeProtocol, TypeBytes))
	assert.True(t, Comparable(TypeIPv4, TypeIPv6))
	assert.False(t, Comparable(TypeString, TypeBytes))
	assert.False(t, Comparable(TypeBool, TypeUint8))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    Value
		wantErr error
	}{
		{"80", IntValue(80), nil},
		{"0x50", IntValue(80), nil},
		{"0120", IntValue(80), nil},
		{"0b1010000", IntValue(80), nil},
		{"-12", IntValue(-12), nil},
		{"18446744073709551615", UintValue(18446744073709551615), nil},
		{"1.5", FloatValue(1.5), nil},
		{"2e3", FloatValue(2000), nil},
		{"'a'", IntValue('a'), nil},
		{`'\n'`, IntValue('\n'), nil},
		{"99999999999999999999999", nil, ErrRange},
		{"09", nil, ErrSyntax},
		{"0x", nil, ErrSyntax},
		{"12abc", nil, ErrSyntax},
		{"'ab'", nil, ErrSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNumber(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		input   string
		want    Value
		wantErr error
	}{
		{"uint16 fits", TypeUint16, "443", UintValue(443), nil},
		{"uint16 overflow", TypeUint16, "70000", nil, ErrRange},
		{"uint negative", TypeUint32, "-1", nil, ErrRange},
		{"int8 low bound", TypeInt8, "-128", IntValue(-128), nil},
		{"int8 overflow", TypeInt8, "128", nil, ErrRange},
		{"uint64 max", TypeUint64, "0xffffffffffffffff", UintValue(0xffffffffffffffff), nil},
		{"int64 from huge", TypeInt64, "0xffffffffffffffff", nil, ErrRange},
		{"float from int", TypeFloat, "3", FloatValue(3), nil},
		{"float", TypeFloat, "0.25", FloatValue(0.25), nil},
		{"bool word", TypeBool, "True", BoolValue(true), nil},
		{"bool digit", TypeBool, "0", BoolValue(false), nil},
		{"bool two", TypeBool, "2", nil, ErrRange},
		{"bool junk", TypeBool, "yes", nil, ErrSyntax},
		{"bytes colon", TypeBytes, "de:ad:be:ef", BytesValue{0xde, 0xad, 0xbe, 0xef}, nil},
		{"bytes dash", TypeBytes, "0-1-2", BytesValue{0, 1, 2}, nil},
		{"bytes single", TypeBytes, "ff", BytesValue{0xff}, nil},
		{"bytes mixed", TypeBytes, "aa:bb.cc", nil, ErrSyntax},
		{"bytes long group", TypeBytes, "aaa:bb", nil, ErrSyntax},
		{"ether", TypeEther, "00:11:22:33:44:55", BytesValue{0, 0x11, 0x22, 0x33, 0x44, 0x55}, nil},
		{"ether short", TypeEther, "00:11:22", nil, ErrRange},
		{"protocol", TypeProtocol, "47.45.54", BytesValue{0x47, 0x45, 0x54}, nil},
		{"ipv4", TypeIPv4, "10.0.0.1", IP(netip.MustParseAddr("10.0.0.1")), nil},
		{"ipv4 prefix", TypeIPv4, "10.1.2.3/8", PrefixValue{netip.MustParsePrefix("10.0.0.0/8")}, nil},
		{"ipv4 prefix too long", TypeIPv4, "10.0.0.0/33", nil, ErrRange},
		{"ipv4 family", TypeIPv4, "fe80::1", nil, ErrSyntax},
		{"ipv6", TypeIPv6, "fe80::1", IP(netip.MustParseAddr("fe80::1")), nil},
		{"ipv6 full", TypeIPv6, "1:2:3:4:5:6:7:8", IP(netip.MustParseAddr("1:2:3:4:5:6:7:8")), nil},
		{"ipv6 family", TypeIPv6, "10.0.0.1", nil, ErrSyntax},
		{"string", TypeString, "hello", StringValue("hello"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLiteral(tt.typ, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqualAndCompare(t *testing.T) {
	t.Run("numeric across kinds", func(t *testing.T) {
		assert.True(t, Equal(IntValue(80), UintValue(80)))
		assert.True(t, Equal(UintValue(2), FloatValue(2)))
		assert.False(t, Equal(IntValue(-1), UintValue(18446744073709551615)))

		c, ok := Compare(IntValue(-1), UintValue(0))
		require.True(t, ok)
		assert.Equal(t, -1, c)

		c, ok = Compare(UintValue(10), IntValue(-10))
		require.True(t, ok)
		assert.Equal(t, 1, c)
	})

	t.Run("addresses and prefixes", func(t *testing.T) {
		addr := IP(netip.MustParseAddr("192.168.1.10"))
		net := PrefixValue{netip.MustParsePrefix("192.168.0.0/16")}
		assert.True(t, Equal(addr, net))
		assert.True(t, Equal(net, addr))
		assert.False(t, Equal(IP(netip.MustParseAddr("10.0.0.1")), net))

		c, ok := Compare(addr, IP(netip.MustParseAddr("192.168.1.9")))
		require.True(t, ok)
		assert.Equal(t, 1, c)

		_, ok = Compare(addr, net)
		assert.False(t, ok)
	})

	t.Run("bytes and strings", func(t *testing.T) {
		assert.True(t, Equal(BytesValue("GET"), StringValue("GET")))
		c, ok := Compare(BytesValue{1, 2}, BytesValue{1, 3})
		require.True(t, ok)
		assert.Equal(t, -1, c)
		assert.False(t, Equal(StringValue("a"), IntValue(1)))
	})
}

func TestContainsAndMatches(t *testing.T) {
	assert.True(t, Contains(BytesValue("GET /index.html"), StringValue("index")))
	assert.True(t, Contains(StringValue("example.com"), StringValue("ample")))
	assert.False(t, Contains(IntValue(1), StringValue("1")))

	re := regexp.MustCompile(`(?i)^www\.`)
	assert.True(t, Matches(StringValue("WWW.example.com"), re))
	assert.True(t, Matches(BytesValue("www.x"), re))
	assert.False(t, Matches(IntValue(3), re))
}

func TestValueStrings(t *testing.T) {
	assert.Equal(t, "de:ad", BytesValue{0xde, 0xad}.String())
	assert.Equal(t, "", BytesValue{}.String())
	assert.Equal(t, "1.0", FloatValue(1).String())
	assert.Equal(t, "0.5", FloatValue(0.5).String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "10.0.0.0/8", PrefixValue{netip.MustParsePrefix("10.0.0.0/8")}.String())

	assert.False(t, IntValue(0).IsTruthy())
	assert.True(t, UintValue(2).IsTruthy())
	assert.False(t, StringValue("").IsTruthy())
}

func TestRawBytes(t *testing.T) {
	b, ok := RawBytes(IP(netip.MustParseAddr("10.0.0.1")))
	require.True(t, ok)
	assert.Equal(t, []byte{10, 0, 0, 1}, b)

	_, ok = RawBytes(UintValue(1))
	assert.False(t, ok)
}

func TestCIDRSet(t *testing.T) {
	set := NewCIDRSet(
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.0/24"),
		netip.MustParsePrefix("2001:db8::/32"),
	)

	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contains(netip.MustParseAddr("10.20.30.40")))
	assert.True(t, set.Contains(netip.MustParseAddr("192.168.1.255")))
	assert.False(t, set.Contains(netip.MustParseAddr("192.168.2.1")))
	assert.True(t, set.Contains(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, set.Contains(netip.MustParseAddr("2001:db9::1")))
	assert.True(t, set.Contains(netip.MustParseAddr("::ffff:10.1.1.1")))

	set.Add(netip.MustParsePrefix("10.1.0.0/16"))
	assert.Equal(t, 3, set.Len())

	var empty *CIDRSet
	assert.False(t, empty.Contains(netip.MustParseAddr("10.0.0.1")))

	all := NewCIDRSet(netip.MustParsePrefix("0.0.0.0/0"))
	assert.True(t, all.Contains(netip.MustParseAddr("8.8.8.8")))
	assert.False(t, all.Contains(netip.MustParseAddr("::1")))
}

func BenchmarkCIDRSet(b *testing.B) {
	set := NewCIDRSet(
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	)
	addr := netip.MustParseAddr("172.20.1.1")

	b.ReportAllocs()
	for b.Loop() {
		set.Contains(addr)
	}
}
