package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// writeCapture stores TCP SYNs to the given destination ports in a pcap file.
func writeCapture(t *testing.T, ports ...uint16) string {
	t.Helper()

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, port := range ports {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{10, 0, 0, 1},
			DstIP:    net.IP{10, 0, 0, 2},
		}
		tcp := &layers.TCP{SrcPort: 50000, DstPort: layers.TCPPort(port), SYN: true}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, tcp))

		data := sb.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000+int64(i), 0),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}

	path := filepath.Join(t.TempDir(), "trace.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestCompileCommand(t *testing.T) {
	t.Run("bytecode", func(t *testing.T) {
		code, stdout, _ := execute(t, "compile", "tcp.port == 80")
		assert.Equal(t, ExitSuccess, code)
		assert.Equal(t, "Instructions:\n"+
			" 0000 FETCH         tcp.port\n"+
			" 0001 PUSH          80\n"+
			" 0002 CMP           any_eq\n"+
			" 0003 RETURN\n", stdout)
	})

	t.Run("types and references", func(t *testing.T) {
		code, stdout, _ := execute(t, "compile", "--types", "--refs", "tcp.port == 80")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, "FETCH         tcp.port <uint16>")
		assert.Contains(t, stdout, "References:")
	})

	t.Run("syntax tree", func(t *testing.T) {
		code, stdout, _ := execute(t, "compile", "--tree", "tcp")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, "Syntax tree:\nExists\n  Field(tcp <protocol>)\n")
	})

	t.Run("no optimize", func(t *testing.T) {
		_, optimized, _ := execute(t, "compile", "1 == 1 and tcp")
		_, plain, _ := execute(t, "compile", "--no-optimize", "1 == 1 and tcp")
		assert.NotContains(t, optimized, "JUMP_IF_FALSE")
		assert.Contains(t, plain, "JUMP_IF_FALSE")
	})

	t.Run("warnings go to stderr", func(t *testing.T) {
		code, _, stderr := execute(t, "--log-level", "error", "compile", "tcp.port != 80")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stderr, "warning:")
		assert.Contains(t, stderr, "!==")
	})

	t.Run("blank filter", func(t *testing.T) {
		code, stdout, _ := execute(t, "compile", "")
		assert.Equal(t, ExitSuccess, code)
		assert.Equal(t, "Filter matches all packets.\n", stdout)
	})

	t.Run("error is highlighted", func(t *testing.T) {
		code, stdout, stderr := execute(t, "compile", `tcp.flags.syn == "hello"`)
		assert.Equal(t, ExitError, code)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "dftool: ")
		assert.Contains(t, stderr, "tcp.flags.syn == \"hello\"\n                 ^~~~~~~\n")
	})

	t.Run("missing argument", func(t *testing.T) {
		code, _, stderr := execute(t, "compile")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "accepts 1 arg")
	})
}

func TestMacroCommands(t *testing.T) {
	macros := writeFile(t, "dfilter_macros", `# user macros
"web","tcp.port in {80 443}"
"host","ip.addr == $1"
"false","off","tcp"
`)

	t.Run("expand", func(t *testing.T) {
		code, stdout, _ := execute(t, "--macros", macros, "expand", "${web} and ${host:10.0.0.1}")
		assert.Equal(t, ExitSuccess, code)
		assert.Equal(t, "tcp.port in {80 443} and ip.addr == 10.0.0.1\n", stdout)
	})

	t.Run("disabled record", func(t *testing.T) {
		code, _, stderr := execute(t, "--macros", macros, "expand", "${off}")
		assert.Equal(t, ExitError, code)
		assert.Contains(t, stderr, "off")
	})

	t.Run("expand without macros", func(t *testing.T) {
		code, _, _ := execute(t, "expand", "${web}")
		assert.Equal(t, ExitError, code)
	})

	t.Run("compile prints the expanded filter", func(t *testing.T) {
		code, stdout, _ := execute(t, "--macros", macros, "compile", "${web}")
		assert.Equal(t, ExitSuccess, code)
		assert.True(t, strings.HasPrefix(stdout, "Filter: tcp.port in {80 443}\n\n"))
	})

	t.Run("no macros flag", func(t *testing.T) {
		code, _, _ := execute(t, "--macros", macros, "compile", "--no-macros", "${web}")
		assert.Equal(t, ExitError, code)
	})
}

func TestFieldsCommand(t *testing.T) {
	code, stdout, _ := execute(t, "fields", "tcp.flags")
	assert.Equal(t, ExitSuccess, code)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "FIELD"))
	assert.Contains(t, stdout, "tcp.flags.syn")
	assert.NotContains(t, stdout, "udp")

	t.Run("protocols", func(t *testing.T) {
		code, stdout, _ := execute(t, "fields", "--protocols")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, "dns")
		assert.NotContains(t, stdout, "dns.qry.name")
	})

	t.Run("custom registry", func(t *testing.T) {
		defs := writeFile(t, "fields.yaml", `format: "1.2"
protocols:
  - abbrev: myproto
    name: My Protocol
    fields:
      - abbrev: myproto.id
        name: Identifier
        type: uint16
`)
		code, stdout, _ := execute(t, "--registry", defs, "fields", "myproto")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, "myproto.id")
		assert.Contains(t, stdout, "uint16")
	})

	t.Run("unsupported registry format", func(t *testing.T) {
		defs := writeFile(t, "fields.yaml", "format: \"2.0\"\nprotocols: []\n")
		code, _, _ := execute(t, "--registry", defs, "fields")
		assert.Equal(t, ExitError, code)
	})
}

func TestApplyCommand(t *testing.T) {
	capture := writeCapture(t, 80, 443, 22, 80, 8080)

	t.Run("frame numbers", func(t *testing.T) {
		code, stdout, _ := execute(t, "--log-level", "error", "apply", "-r", capture, "tcp.dstport == 80")
		assert.Equal(t, ExitSuccess, code)
		assert.Equal(t, "1\n4\n", stdout)
	})

	t.Run("count with workers", func(t *testing.T) {
		code, stdout, _ := execute(t, "--log-level", "error", "apply", "-r", capture, "--workers", "3", "--count", "tcp.dstport in {80 443 8080}")
		assert.Equal(t, ExitSuccess, code)
		assert.Equal(t, "4\n", stdout)
	})

	t.Run("no match", func(t *testing.T) {
		code, stdout, stderr := execute(t, "--log-level", "error", "apply", "-r", capture, "udp")
		assert.Equal(t, ExitNoMatch, code)
		assert.Empty(t, stdout)
		assert.Empty(t, stderr)
	})

	t.Run("info log summarizes the run", func(t *testing.T) {
		code, _, stderr := execute(t, "--log-format", "json", "apply", "-r", capture, "tcp.flags.syn")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stderr, `"msg":"capture filtered"`)
		assert.Contains(t, stderr, `"matched":5`)
	})

	t.Run("capture file is required", func(t *testing.T) {
		code, _, _ := execute(t, "apply", "tcp")
		assert.Equal(t, ExitError, code)
	})

	t.Run("missing capture", func(t *testing.T) {
		code, _, _ := execute(t, "apply", "-r", filepath.Join(t.TempDir(), "none.pcap"), "tcp")
		assert.Equal(t, ExitError, code)
	})
}

func TestConfiguration(t *testing.T) {
	macros := writeFile(t, "macros.yaml", `- name: ssh
  body: tcp.port == 22
`)

	t.Run("config file", func(t *testing.T) {
		cfg := writeFile(t, "dftool.yaml", "macros: "+macros+"\nlog:\n  level: error\ncompile:\n  optimize: false\n")

		code, stdout, _ := execute(t, "--config", cfg, "compile", "1 == 1 and ${ssh}")
		assert.Equal(t, ExitSuccess, code)
		assert.Contains(t, stdout, "Filter: 1 == 1 and tcp.port == 22")
		assert.Contains(t, stdout, "JUMP_IF_FALSE")
	})

	t.Run("unknown key", func(t *testing.T) {
		cfg := writeFile(t, "dftool.yaml", "macro: typo.yaml\n")
		code, _, _ := execute(t, "--config", cfg, "fields")
		assert.Equal(t, ExitError, code)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("DFTOOL_COMPILE_EXPAND_MACROS", "false")
		t.Setenv("DFTOOL_MACROS", macros)

		code, _, _ := execute(t, "compile", "${ssh}")
		assert.Equal(t, ExitError, code)
	})

	t.Run("flags override the file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "dftool.log")
		cfg := writeFile(t, "dftool.yaml", "log:\n  level: error\n")

		code, _, stderr := execute(t, "--config", cfg, "--log-level", "debug", "--log-file", logFile, "compile", "tcp")
		assert.Equal(t, ExitSuccess, code)
		assert.Empty(t, stderr)

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "filter compiled")
	})
}
