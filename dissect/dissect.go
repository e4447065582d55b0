// Package dissect decodes raw frames with gopacket and fills a field tree
// with the built-in fields of the registry.
package dissect

import (
	"net"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/vitalvas/pktfilter/fieldtree"
	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// Frame is one captured frame together with its capture metadata.
type Frame struct {
	Number   uint32
	Info     gopacket.CaptureInfo
	Data     []byte
	LinkType layers.LinkType
}

// Dissector maps gopacket layers onto registry fields. It holds no per-packet
// state, so one value can be shared by several goroutines as long as each
// goroutine uses its own fieldtree.Builder.
type Dissector struct {
	ids     fieldIDs
	options gopacket.DecodeOptions
}

// New resolves the built-in field names against reg. Names the registry does
// not define are never recorded.
func New(reg *registry.Snapshot) *Dissector {
	return &Dissector{
		ids:     resolve(reg),
		options: gopacket.DecodeOptions{Lazy: true, NoCopy: true},
	}
}

// Decode parses the frame with gopacket.
func (d *Dissector) Decode(f Frame) gopacket.Packet {
	link := f.LinkType
	if link == 0 {
		link = layers.LinkTypeEthernet
	}

	pkt := gopacket.NewPacket(f.Data, link, d.options)
	md := pkt.Metadata()
	md.CaptureInfo = f.Info
	if md.CaptureInfo.CaptureLength == 0 {
		md.CaptureInfo.CaptureLength = len(f.Data)
	}
	if md.CaptureInfo.Length == 0 {
		md.CaptureInfo.Length = len(f.Data)
	}
	return pkt
}

// Dissect decodes the frame and returns its field tree. The builder is reset
// by the call; its priming is kept.
func (d *Dissector) Dissect(b *fieldtree.Builder, f Frame) *fieldtree.Tree {
	d.Fill(b, f.Number, d.Decode(f))
	return b.Tree()
}

// Fill records the fields of an already decoded packet into b.
func (d *Dissector) Fill(b *fieldtree.Builder, number uint32, pkt gopacket.Packet) {
	w := writer{b: b}
	ids := &d.ids

	ci := pkt.Metadata().CaptureInfo
	w.proto(ids.frame, pkt.Data())
	w.add(ids.frameNumber, ftype.UintValue(number))
	w.add(ids.frameLen, ftype.UintValue(ci.Length))
	w.add(ids.frameCapLen, ftype.UintValue(ci.CaptureLength))
	if !ci.Timestamp.IsZero() {
		w.add(ids.frameTime, ftype.FloatValue(float64(ci.Timestamp.UnixNano())/1e9))
	}
	w.add(ids.frameInterface, ftype.UintValue(ci.InterfaceIndex))

	for _, layer := range pkt.Layers() {
		switch l := layer.(type) {
		case *layers.Ethernet:
			d.ethernet(w, l)
		case *layers.Dot1Q:
			d.dot1q(w, l)
		case *layers.ARP:
			d.arp(w, l)
		case *layers.IPv4:
			d.ipv4(w, l)
		case *layers.IPv6:
			d.ipv6(w, l)
		case *layers.TCP:
			d.tcp(w, l)
		case *layers.UDP:
			d.udp(w, l)
		case *layers.ICMPv4:
			d.icmpv4(w, l)
		case *layers.ICMPv6:
			d.icmpv6(w, l)
		case *layers.DNS:
			d.dns(w, l)
		case *gopacket.Payload:
			d.data(w, l)
		}
	}
}

func (d *Dissector) ethernet(w writer, l *layers.Ethernet) {
	ids := &d.ids
	w.proto(ids.eth, l.LayerContents())
	w.add(ids.ethDst, ether(l.DstMAC))
	w.add(ids.ethSrc, ether(l.SrcMAC))
	w.add(ids.ethAddr, ether(l.SrcMAC))
	w.add(ids.ethAddr, ether(l.DstMAC))
	w.add(ids.ethType, ftype.UintValue(l.EthernetType))
}

func (d *Dissector) dot1q(w writer, l *layers.Dot1Q) {
	ids := &d.ids
	w.proto(ids.vlan, l.LayerContents())
	w.add(ids.vlanPriority, ftype.UintValue(l.Priority))
	w.add(ids.vlanDEI, ftype.BoolValue(l.DropEligible))
	w.add(ids.vlanID, ftype.UintValue(l.VLANIdentifier))
	w.add(ids.vlanType, ftype.UintValue(l.Type))
}

func (d *Dissector) arp(w writer, l *layers.ARP) {
	ids := &d.ids
	w.proto(ids.arp, l.LayerContents())
	w.add(ids.arpOpcode, ftype.UintValue(l.Operation))
	w.add(ids.arpSrcMAC, ether(l.SourceHwAddress))
	w.add(ids.arpSrcIP, addr(l.SourceProtAddress))
	w.add(ids.arpDstMAC, ether(l.DstHwAddress))
	w.add(ids.arpDstIP, addr(l.DstProtAddress))
}

func (d *Dissector) ipv4(w writer, l *layers.IPv4) {
	ids := &d.ids
	w.proto(ids.ip, l.LayerContents())
	w.add(ids.ipVersion, ftype.UintValue(l.Version))
	w.add(ids.ipHdrLen, ftype.UintValue(uint64(l.IHL)*4))
	w.add(ids.ipDSField, ftype.UintValue(l.TOS))
	w.add(ids.ipLen, ftype.UintValue(l.Length))
	w.add(ids.ipID, ftype.UintValue(l.Id))
	w.add(ids.ipFlags, ftype.UintValue(l.Flags))
	w.add(ids.ipFlagRB, ftype.BoolValue(l.Flags&layers.IPv4EvilBit != 0))
	w.add(ids.ipFlagDF, ftype.BoolValue(l.Flags&layers.IPv4DontFragment != 0))
	w.add(ids.ipFlagMF, ftype.BoolValue(l.Flags&layers.IPv4MoreFragments != 0))
	w.add(ids.ipFragOffset, ftype.UintValue(l.FragOffset))
	w.add(ids.ipTTL, ftype.UintValue(l.TTL))
	w.add(ids.ipProto, ftype.UintValue(l.Protocol))
	w.add(ids.ipChecksum, ftype.UintValue(l.Checksum))
	w.add(ids.ipSrc, addr(l.SrcIP))
	w.add(ids.ipDst, addr(l.DstIP))
	w.add(ids.ipAddr, addr(l.SrcIP))
	w.add(ids.ipAddr, addr(l.DstIP))
}

func (d *Dissector) ipv6(w writer, l *layers.IPv6) {
	ids := &d.ids
	w.proto(ids.ipv6, l.LayerContents())
	w.add(ids.ipv6Version, ftype.UintValue(l.Version))
	w.add(ids.ipv6TClass, ftype.UintValue(l.TrafficClass))
	w.add(ids.ipv6Flow, ftype.UintValue(l.FlowLabel))
	w.add(ids.ipv6PLen, ftype.UintValue(l.Length))
	w.add(ids.ipv6Next, ftype.UintValue(l.NextHeader))
	w.add(ids.ipv6HLim, ftype.UintValue(l.HopLimit))
	w.add(ids.ipv6Src, addr(l.SrcIP))
	w.add(ids.ipv6Dst, addr(l.DstIP))
	w.add(ids.ipv6Addr, addr(l.SrcIP))
	w.add(ids.ipv6Addr, addr(l.DstIP))
}

func (d *Dissector) tcp(w writer, l *layers.TCP) {
	ids := &d.ids
	w.proto(ids.tcp, l.LayerContents())
	w.add(ids.tcpSrcPort, ftype.UintValue(l.SrcPort))
	w.add(ids.tcpDstPort, ftype.UintValue(l.DstPort))
	w.add(ids.tcpPort, ftype.UintValue(l.SrcPort))
	w.add(ids.tcpPort, ftype.UintValue(l.DstPort))
	w.add(ids.tcpSeq, ftype.UintValue(l.Seq))
	w.add(ids.tcpAck, ftype.UintValue(l.Ack))
	w.add(ids.tcpHdrLen, ftype.UintValue(uint64(l.DataOffset)*4))
	w.add(ids.tcpFlags, ftype.UintValue(tcpFlags(l)))
	w.add(ids.tcpFIN, ftype.BoolValue(l.FIN))
	w.add(ids.tcpSYN, ftype.BoolValue(l.SYN))
	w.add(ids.tcpRST, ftype.BoolValue(l.RST))
	w.add(ids.tcpPSH, ftype.BoolValue(l.PSH))
	w.add(ids.tcpACK, ftype.BoolValue(l.ACK))
	w.add(ids.tcpURG, ftype.BoolValue(l.URG))
	w.add(ids.tcpECE, ftype.BoolValue(l.ECE))
	w.add(ids.tcpCWR, ftype.BoolValue(l.CWR))
	w.add(ids.tcpWindow, ftype.UintValue(l.Window))
	w.add(ids.tcpChecksum, ftype.UintValue(l.Checksum))
	w.add(ids.tcpUrgent, ftype.UintValue(l.Urgent))

	payload := l.LayerPayload()
	w.add(ids.tcpLen, ftype.UintValue(len(payload)))
	if len(payload) > 0 {
		w.add(ids.tcpPayload, ftype.BytesValue(payload))
	}
}

func tcpFlags(l *layers.TCP) uint16 {
	var flags uint16
	for i, set := range []bool{l.FIN, l.SYN, l.RST, l.PSH, l.ACK, l.URG, l.ECE, l.CWR, l.NS} {
		if set {
			flags |= 1 << i
		}
	}
	return flags
}

func (d *Dissector) udp(w writer, l *layers.UDP) {
	ids := &d.ids
	w.proto(ids.udp, l.LayerContents())
	w.add(ids.udpSrcPort, ftype.UintValue(l.SrcPort))
	w.add(ids.udpDstPort, ftype.UintValue(l.DstPort))
	w.add(ids.udpPort, ftype.UintValue(l.SrcPort))
	w.add(ids.udpPort, ftype.UintValue(l.DstPort))
	w.add(ids.udpLength, ftype.UintValue(l.Length))
	w.add(ids.udpChecksum, ftype.UintValue(l.Checksum))
	if payload := l.LayerPayload(); len(payload) > 0 {
		w.add(ids.udpPayload, ftype.BytesValue(payload))
	}
}

func (d *Dissector) icmpv4(w writer, l *layers.ICMPv4) {
	ids := &d.ids
	w.proto(ids.icmp, l.LayerContents())
	w.add(ids.icmpType, ftype.UintValue(l.TypeCode.Type()))
	w.add(ids.icmpCode, ftype.UintValue(l.TypeCode.Code()))
	w.add(ids.icmpIdent, ftype.UintValue(l.Id))
	w.add(ids.icmpSeq, ftype.UintValue(l.Seq))
}

func (d *Dissector) icmpv6(w writer, l *layers.ICMPv6) {
	ids := &d.ids
	w.proto(ids.icmpv6, l.LayerContents())
	w.add(ids.icmpv6Type, ftype.UintValue(l.TypeCode.Type()))
	w.add(ids.icmpv6Code, ftype.UintValue(l.TypeCode.Code()))
}

func (d *Dissector) dns(w writer, l *layers.DNS) {
	ids := &d.ids
	w.proto(ids.dns, l.LayerContents())
	w.add(ids.dnsID, ftype.UintValue(l.ID))
	w.add(ids.dnsResponse, ftype.BoolValue(l.QR))
	w.add(ids.dnsOpcode, ftype.UintValue(l.OpCode))
	w.add(ids.dnsRCode, ftype.UintValue(l.ResponseCode))
	w.add(ids.dnsQueries, ftype.UintValue(l.QDCount))
	w.add(ids.dnsAnswers, ftype.UintValue(l.ANCount))

	for _, q := range l.Questions {
		w.add(ids.dnsQryName, ftype.StringValue(q.Name))
		w.add(ids.dnsQryType, ftype.UintValue(q.Type))
	}

	for _, rr := range l.Answers {
		w.add(ids.dnsRespName, ftype.StringValue(rr.Name))
		w.add(ids.dnsRespTTL, ftype.UintValue(rr.TTL))

		switch rr.Type {
		case layers.DNSTypeA:
			w.add(ids.dnsA, addr(rr.IP))
		case layers.DNSTypeAAAA:
			w.add(ids.dnsAAAA, addr(rr.IP))
		case layers.DNSTypeCNAME:
			w.add(ids.dnsCNAME, ftype.StringValue(strings.TrimSuffix(string(rr.CNAME), ".")))
		}
	}
}

func (d *Dissector) data(w writer, l *gopacket.Payload) {
	ids := &d.ids
	payload := l.Payload()
	w.proto(ids.data, payload)
	w.add(ids.dataData, ftype.BytesValue(payload))
	w.add(ids.dataLen, ftype.UintValue(len(payload)))
}

// writer skips fields the registry does not define.
type writer struct {
	b *fieldtree.Builder
}

func (w writer) proto(id registry.FieldID, payload []byte) {
	if id == registry.InvalidID {
		return
	}
	w.b.PushProtocol(id, payload)
}

func (w writer) add(id registry.FieldID, v ftype.Value) {
	if id == registry.InvalidID || v == nil {
		return
	}
	w.b.Add(id, v)
}

func ether(hw net.HardwareAddr) ftype.Value {
	if len(hw) == 0 {
		return nil
	}
	return ftype.BytesValue(hw)
}

func addr(raw []byte) ftype.Value {
	a, ok := netip.AddrFromSlice(raw)
	if !ok {
		return nil
	}
	return ftype.IP(a)
}
