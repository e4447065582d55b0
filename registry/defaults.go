package registry

import "github.com/vitalvas/pktfilter/ftype"

type fieldDef struct {
	abbrev string
	name   string
	typ    ftype.Type
}

type protocolDef struct {
	abbrev string
	name   string
	fields []fieldDef
}

var builtinProtocols = []protocolDef{
	{"frame", "Frame", []fieldDef{
		{"frame.number", "Frame Number", ftype.TypeUint32},
		{"frame.len", "Frame length on the wire", ftype.TypeUint32},
		{"frame.cap_len", "Frame length stored into the capture file", ftype.TypeUint32},
		{"frame.time_epoch", "Epoch Arrival Time", ftype.TypeFloat},
		{"frame.interface_id", "Interface id", ftype.TypeUint32},
	}},
	{"eth", "Ethernet", []fieldDef{
		{"eth.dst", "Destination", ftype.TypeEther},
		{"eth.src", "Source", ftype.TypeEther},
		{"eth.addr", "Address", ftype.TypeEther},
		{"eth.type", "Type", ftype.TypeUint16},
	}},
	{"vlan", "802.1Q Virtual LAN", []fieldDef{
		{"vlan.priority", "Priority", ftype.TypeUint8},
		{"vlan.dei", "DEI", ftype.TypeBool},
		{"vlan.id", "ID", ftype.TypeUint16},
		{"vlan.etype", "Type", ftype.TypeUint16},
	}},
	{"arp", "Address Resolution Protocol", []fieldDef{
		{"arp.opcode", "Opcode", ftype.TypeUint16},
		{"arp.src.hw_mac", "Sender MAC address", ftype.TypeEther},
		{"arp.src.proto_ipv4", "Sender IP address", ftype.TypeIPv4},
		{"arp.dst.hw_mac", "Target MAC address", ftype.TypeEther},
		{"arp.dst.proto_ipv4", "Target IP address", ftype.TypeIPv4},
	}},
	{"ip", "Internet Protocol Version 4", []fieldDef{
		{"ip.version", "Version", ftype.TypeUint8},
		{"ip.hdr_len", "Header Length", ftype.TypeUint8},
		{"ip.dsfield", "Differentiated Services Field", ftype.TypeUint8},
		{"ip.len", "Total Length", ftype.TypeUint16},
		{"ip.id", "Identification", ftype.TypeUint16},
		{"ip.flags", "Flags", ftype.TypeUint8},
		{"ip.flags.rb", "Reserved bit", ftype.TypeBool},
		{"ip.flags.df", "Don't fragment", ftype.TypeBool},
		{"ip.flags.mf", "More fragments", ftype.TypeBool},
		{"ip.frag_offset", "Fragment Offset", ftype.TypeUint16},
		{"ip.ttl", "Time to Live", ftype.TypeUint8},
		{"ip.proto", "Protocol", ftype.TypeUint8},
		{"ip.checksum", "Header Checksum", ftype.TypeUint16},
		{"ip.src", "Source Address", ftype.TypeIPv4},
		{"ip.dst", "Destination Address", ftype.TypeIPv4},
		{"ip.addr", "Source or Destination Address", ftype.TypeIPv4},
	}},
	{"ipv6", "Internet Protocol Version 6", []fieldDef{
		{"ipv6.version", "Version", ftype.TypeUint8},
		{"ipv6.tclass", "Traffic Class", ftype.TypeUint8},
		{"ipv6.flow", "Flow Label", ftype.TypeUint24},
		{"ipv6.plen", "Payload Length", ftype.TypeUint16},
		{"ipv6.nxt", "Next Header", ftype.TypeUint8},
		{"ipv6.hlim", "Hop Limit", ftype.TypeUint8},
		{"ipv6.src", "Source Address", ftype.TypeIPv6},
		{"ipv6.dst", "Destination Address", ftype.TypeIPv6},
		{"ipv6.addr", "Source or Destination Address", ftype.TypeIPv6},
	}},
	{"tcp", "Transmission Control Protocol", []fieldDef{
		{"tcp.srcport", "Source Port", ftype.TypeUint16},
		{"tcp.dstport", "Destination Port", ftype.TypeUint16},
		{"tcp.port", "Source or Destination Port", ftype.TypeUint16},
		{"tcp.seq", "Sequence Number", ftype.TypeUint32},
		{"tcp.ack", "Acknowledgment Number", ftype.TypeUint32},
		{"tcp.hdr_len", "Header Length", ftype.TypeUint8},
		{"tcp.flags", "Flags", ftype.TypeUint16},
		{"tcp.flags.fin", "Fin", ftype.TypeBool},
		{"tcp.flags.syn", "Syn", ftype.TypeBool},
		{"tcp.flags.reset", "Reset", ftype.TypeBool},
		{"tcp.flags.push", "Push", ftype.TypeBool},
		{"tcp.flags.ack", "Acknowledgment", ftype.TypeBool},
		{"tcp.flags.urg", "Urgent", ftype.TypeBool},
		{"tcp.flags.ece", "ECN-Echo", ftype.TypeBool},
		{"tcp.flags.cwr", "Congestion Window Reduced", ftype.TypeBool},
		{"tcp.window_size", "Window", ftype.TypeUint16},
		{"tcp.checksum", "Checksum", ftype.TypeUint16},
		{"tcp.urgent_pointer", "Urgent Pointer", ftype.TypeUint16},
		{"tcp.len", "TCP Segment Len", ftype.TypeUint32},
		{"tcp.payload", "TCP payload", ftype.TypeBytes},
	}},
	{"udp", "User Datagram Protocol", []fieldDef{
		{"udp.srcport", "Source Port", ftype.TypeUint16},
		{"udp.dstport", "Destination Port", ftype.TypeUint16},
		{"udp.port", "Source or Destination Port", ftype.TypeUint16},
		{"udp.length", "Length", ftype.TypeUint16},
		{"udp.checksum", "Checksum", ftype.TypeUint16},
		{"udp.payload", "Payload", ftype.TypeBytes},
	}},
	{"icmp", "Internet Control Message Protocol", []fieldDef{
		{"icmp.type", "Type", ftype.TypeUint8},
		{"icmp.code", "Code", ftype.TypeUint8},
		{"icmp.ident", "Identifier", ftype.TypeUint16},
		{"icmp.seq", "Sequence Number", ftype.TypeUint16},
	}},
	{"icmpv6", "Internet Control Message Protocol v6", []fieldDef{
		{"icmpv6.type", "Type", ftype.TypeUint8},
		{"icmpv6.code", "Code", ftype.TypeUint8},
	}},
	{"dns", "Domain Name System", []fieldDef{
		{"dns.id", "Transaction ID", ftype.TypeUint16},
		{"dns.flags.response", "Response", ftype.TypeBool},
		{"dns.flags.opcode", "Opcode", ftype.TypeUint8},
		{"dns.flags.rcode", "Reply code", ftype.TypeUint8},
		{"dns.count.queries", "Questions", ftype.TypeUint16},
		{"dns.count.answers", "Answer RRs", ftype.TypeUint16},
		{"dns.qry.name", "Name", ftype.TypeString},
		{"dns.qry.type", "Type", ftype.TypeUint16},
		{"dns.resp.name", "Name", ftype.TypeString},
		{"dns.resp.ttl", "Time to live", ftype.TypeUint32},
		{"dns.a", "Address", ftype.TypeIPv4},
		{"dns.aaaa", "AAAA Address", ftype.TypeIPv6},
		{"dns.cname", "CNAME", ftype.TypeString},
	}},
	{"data", "Data", []fieldDef{
		{"data.data", "Data", ftype.TypeBytes},
		{"data.len", "Length", ftype.TypeUint32},
	}},
}

// Default returns a fresh snapshot with the built-in protocols understood by
// the dissect package.
func Default() *Snapshot {
	return DefaultBuilder().MustBuild()
}

// DefaultBuilder returns a builder preloaded with the built-in protocols so
// callers can register more definitions on top.
func DefaultBuilder() *Builder {
	b := NewBuilder()
	for _, p := range builtinProtocols {
		b.Protocol(p.abbrev, p.name)
		for _, f := range p.fields {
			b.Field(f.abbrev, f.name, f.typ)
		}
	}
	return b
}
