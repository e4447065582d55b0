package dissect

import "github.com/vitalvas/pktfilter/registry"

type fieldIDs struct {
	frame, frameNumber, frameLen, frameCapLen, frameTime, frameInterface registry.FieldID

	eth, ethDst, ethSrc, ethAddr, ethType registry.FieldID

	vlan, vlanPriority, vlanDEI, vlanID, vlanType registry.FieldID

	arp, arpOpcode, arpSrcMAC, arpSrcIP, arpDstMAC, arpDstIP registry.FieldID

	ip, ipVersion, ipHdrLen, ipDSField, ipLen, ipID                 registry.FieldID
	ipFlags, ipFlagRB, ipFlagDF, ipFlagMF, ipFragOffset             registry.FieldID
	ipTTL, ipProto, ipChecksum, ipSrc, ipDst, ipAddr                registry.FieldID
	ipv6, ipv6Version, ipv6TClass, ipv6Flow, ipv6PLen, ipv6Next     registry.FieldID
	ipv6HLim, ipv6Src, ipv6Dst, ipv6Addr                            registry.FieldID
	tcp, tcpSrcPort, tcpDstPort, tcpPort, tcpSeq, tcpAck, tcpHdrLen registry.FieldID
	tcpFlags, tcpFIN, tcpSYN, tcpRST, tcpPSH, tcpACK, tcpURG        registry.FieldID
	tcpECE, tcpCWR, tcpWindow, tcpChecksum, tcpUrgent, tcpLen       registry.FieldID
	tcpPayload                                                      registry.FieldID

	udp, udpSrcPort, udpDstPort, udpPort, udpLength, udpChecksum, udpPayload registry.FieldID

	icmp, icmpType, icmpCode, icmpIdent, icmpSeq registry.FieldID
	icmpv6, icmpv6Type, icmpv6Code               registry.FieldID

	dns, dnsID, dnsResponse, dnsOpcode, dnsRCode, dnsQueries, dnsAnswers registry.FieldID
	dnsQryName, dnsQryType, dnsRespName, dnsRespTTL                       registry.FieldID
	dnsA, dnsAAAA, dnsCNAME                                               registry.FieldID

	data, dataData, dataLen registry.FieldID
}

func resolve(reg *registry.Snapshot) fieldIDs {
	lookup := func(name string) registry.FieldID {
		if reg == nil {
			return registry.InvalidID
		}
		f, ok := reg.LookupField(name)
		if !ok {
			return registry.InvalidID
		}
		return f.ID
	}

	return fieldIDs{
		frame:          lookup("frame"),
		frameNumber:    lookup("frame.number"),
		frameLen:       lookup("frame.len"),
		frameCapLen:    lookup("frame.cap_len"),
		frameTime:      lookup("frame.time_epoch"),
		frameInterface: lookup("frame.interface_id"),

		eth:     lookup("eth"),
		ethDst:  lookup("eth.dst"),
		ethSrc:  lookup("eth.src"),
		ethAddr: lookup("eth.addr"),
		ethType: lookup("eth.type"),

		vlan:         lookup("vlan"),
		vlanPriority: lookup("vlan.priority"),
		vlanDEI:      lookup("vlan.dei"),
		vlanID:       lookup("vlan.id"),
		vlanType:     lookup("vlan.etype"),

		arp:       lookup("arp"),
		arpOpcode: lookup("arp.opcode"),
		arpSrcMAC: lookup("arp.src.hw_mac"),
		arpSrcIP:  lookup("arp.src.proto_ipv4"),
		arpDstMAC: lookup("arp.dst.hw_mac"),
		arpDstIP:  lookup("arp.dst.proto_ipv4"),

		ip:           lookup("ip"),
		ipVersion:    lookup("ip.version"),
		ipHdrLen:     lookup("ip.hdr_len"),
		ipDSField:    lookup("ip.dsfield"),
		ipLen:        lookup("ip.len"),
		ipID:         lookup("ip.id"),
		ipFlags:      lookup("ip.flags"),
		ipFlagRB:     lookup("ip.flags.rb"),
		ipFlagDF:     lookup("ip.flags.df"),
		ipFlagMF:     lookup("ip.flags.mf"),
		ipFragOffset: lookup("ip.frag_offset"),
		ipTTL:        lookup("ip.ttl"),
		ipProto:      lookup("ip.proto"),
		ipChecksum:   lookup("ip.checksum"),
		ipSrc:        lookup("ip.src"),
		ipDst:        lookup("ip.dst"),
		ipAddr:       lookup("ip.addr"),

		ipv6:        lookup("ipv6"),
		ipv6Version: lookup("ipv6.version"),
		ipv6TClass:  lookup("ipv6.tclass"),
		ipv6Flow:    lookup("ipv6.flow"),
		ipv6PLen:    lookup("ipv6.plen"),
		ipv6Next:    lookup("ipv6.nxt"),
		ipv6HLim:    lookup("ipv6.hlim"),
		ipv6Src:     lookup("ipv6.src"),
		ipv6Dst:     lookup("ipv6.dst"),
		ipv6Addr:    lookup("ipv6.addr"),

		tcp:         lookup("tcp"),
		tcpSrcPort:  lookup("tcp.srcport"),
		tcpDstPort:  lookup("tcp.dstport"),
		tcpPort:     lookup("tcp.port"),
		tcpSeq:      lookup("tcp.seq"),
		tcpAck:      lookup("tcp.ack"),
		tcpHdrLen:   lookup("tcp.hdr_len"),
		tcpFlags:    lookup("tcp.flags"),
		tcpFIN:      lookup("tcp.flags.fin"),
		tcpSYN:      lookup("tcp.flags.syn"),
		tcpRST:      lookup("tcp.flags.reset"),
		tcpPSH:      lookup("tcp.flags.push"),
		tcpACK:      lookup("tcp.flags.ack"),
		tcpURG:      lookup("tcp.flags.urg"),
		tcpECE:      lookup("tcp.flags.ece"),
		tcpCWR:      lookup("tcp.flags.cwr"),
		tcpWindow:   lookup("tcp.window_size"),
		tcpChecksum: lookup("tcp.checksum"),
		tcpUrgent:   lookup("tcp.urgent_pointer"),
		tcpLen:      lookup("tcp.len"),
		tcpPayload:  lookup("tcp.payload"),

		udp:         lookup("udp"),
		udpSrcPort:  lookup("udp.srcport"),
		udpDstPort:  lookup("udp.dstport"),
		udpPort:     lookup("udp.port"),
		udpLength:   lookup("udp.length"),
		udpChecksum: lookup("udp.checksum"),
		udpPayload:  lookup("udp.payload"),

		icmp:       lookup("icmp"),
		icmpType:   lookup("icmp.type"),
		icmpCode:   lookup("icmp.code"),
		icmpIdent:  lookup("icmp.ident"),
		icmpSeq:    lookup("icmp.seq"),
		icmpv6:     lookup("icmpv6"),
		icmpv6Type: lookup("icmpv6.type"),
		icmpv6Code: lookup("icmpv6.code"),

		dns:         lookup("dns"),
		dnsID:       lookup("dns.id"),
		dnsResponse: lookup("dns.flags.response"),
		dnsOpcode:   lookup("dns.flags.opcode"),
		dnsRCode:    lookup("dns.flags.rcode"),
		dnsQueries:  lookup("dns.count.queries"),
		dnsAnswers:  lookup("dns.count.answers"),
		dnsQryName:  lookup("dns.qry.name"),
		dnsQryType:  lookup("dns.qry.type"),
		dnsRespName: lookup("dns.resp.name"),
		dnsRespTTL:  lookup("dns.resp.ttl"),
		dnsA:        lookup("dns.a"),
		dnsAAAA:     lookup("dns.aaaa"),
		dnsCNAME:    lookup("dns.cname"),

		data:     lookup("data"),
		dataData: lookup("data.data"),
		dataLen:  lookup("data.len"),
	}
}
