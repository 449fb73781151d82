package main

import (
	"fmt"
	"net"

	"github.com/lencsegabor-port/siitperfgo/internal/config"
	"github.com/lencsegabor-port/siitperfgo/internal/engine"
	"github.com/lencsegabor-port/siitperfgo/internal/frame"
	"github.com/lencsegabor-port/siitperfgo/internal/netio"
	"github.com/lencsegabor-port/siitperfgo/internal/sender"
)

// buildDirections compiles a config.Config into the frame templates
// and netio queues each active direction's engine.DirectionRuntime
// needs, per SPEC_FULL.md section 2.A/4.1.A.
func buildDirections(cfg *config.Config) (map[string]*engine.DirectionRuntime, error) {
	dirs := map[string]*engine.DirectionRuntime{}

	for _, side := range []struct {
		name string
		sc   config.SideConfig
	}{
		{"left", cfg.Left},
		{"right", cfg.Right},
	} {
		if !side.sc.Enabled {
			continue
		}

		d, err := buildDirection(side.name, side.sc, cfg.Run)
		if err != nil {
			return nil, fmt.Errorf("build direction %q: %w", side.name, err)
		}
		dirs[side.name] = d
	}

	return dirs, nil
}

func buildDirection(name string, sc config.SideConfig, run config.RunConfig) (*engine.DirectionRuntime, error) {
	dstMAC, err := parseMAC(sc.DUTMAC)
	if err != nil {
		return nil, fmt.Errorf("dut_mac: %w", err)
	}
	srcMAC, err := parseMAC(sc.TesterMAC)
	if err != nil {
		return nil, fmt.Errorf("tester_mac: %w", err)
	}

	realIP, err := parseIP(sc.RealIP, sc.IPVersion)
	if err != nil {
		return nil, fmt.Errorf("real_ip: %w", err)
	}
	virtualIP, err := parseIP(sc.VirtualIP, sc.IPVersion)
	if err != nil {
		return nil, fmt.Errorf("virtual_ip: %w", err)
	}

	length := run.IPv6FrameSize
	if sc.IPVersion == 4 {
		length -= frame.IPv6HeaderLen - frame.IPv4HeaderLen
	}

	fgTpl, err := frame.Build(frame.Params{
		IPVersion: sc.IPVersion, Length: length,
		DstMAC: dstMAC, SrcMAC: srcMAC,
		SrcIP: realIP, DstIP: virtualIP,
		SrcPort: sc.SrcPort.Min, DstPort: sc.DstPort.Min,
		VarSrcPort: sc.SrcPort.Mode != 0, VarDstPort: sc.DstPort.Mode != 0,
		IPSliceOffset: sc.IPSlice.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("build foreground template: %w", err)
	}
	// Background traffic is always IPv6 (spec.md section 3), independent
	// of this side's foreground IPVersion: a side whose foreground is
	// IPv4 still needs a distinct IPv6 address pair for its background
	// stream (original_source/throughput.h's ipv6_*_real/virtual split
	// from ipv4_*_real/virtual).
	bgRealAddr, bgVirtualAddr := sc.RealIP, sc.VirtualIP
	if sc.IPVersion != 6 {
		bgRealAddr, bgVirtualAddr = sc.BgRealIP, sc.BgVirtualIP
	}
	bgRealIP, err := parseIP(bgRealAddr, 6)
	if err != nil {
		return nil, fmt.Errorf("bg_real_ip: %w", err)
	}
	bgVirtualIP, err := parseIP(bgVirtualAddr, 6)
	if err != nil {
		return nil, fmt.Errorf("bg_virtual_ip: %w", err)
	}

	bgTpl, err := frame.Build(frame.Params{
		IPVersion: 6, Length: run.IPv6FrameSize,
		DstMAC: dstMAC, SrcMAC: srcMAC,
		SrcIP: bgRealIP, DstIP: bgVirtualIP,
		SrcPort: sc.SrcPort.Min, DstPort: sc.DstPort.Min,
		IPSliceOffset: sc.IPSlice.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("build background template: %w", err)
	}

	fgSet := sender.TemplateSet{Subnets: cloneAcrossSubnets(fgTpl, sc.Subnets)}
	bgSet := sender.TemplateSet{Subnets: cloneAcrossSubnets(bgTpl, sc.Subnets)}

	var probeTpl *frame.Template
	if run.K > 0 {
		probeTpl, err = frame.Build(frame.Params{
			IPVersion: sc.IPVersion, Length: length,
			DstMAC: dstMAC, SrcMAC: srcMAC,
			SrcIP: realIP, DstIP: virtualIP,
			SrcPort: sc.SrcPort.Min, DstPort: sc.DstPort.Min,
			IPSliceOffset: sc.IPSlice.Offset,
			Probe:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("build probe template: %w", err)
		}
	}

	queue, err := netio.OpenRawQueue(sc.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrLinkDown, err)
	}

	d := &engine.DirectionRuntime{
		Name:              name,
		Queue:             queue,
		CPUCore:           sc.CPUCore,
		Foreground:        fgSet,
		Background:        bgSet,
		SrcPort:           sender.PortRange{Min: sc.SrcPort.Min, Max: sc.SrcPort.Max, Mode: sender.PortVariationMode(sc.SrcPort.Mode)},
		DstPort:           sender.PortRange{Min: sc.DstPort.Min, Max: sc.DstPort.Max, Mode: sender.PortVariationMode(sc.DstPort.Mode)},
		IPSlice:           sender.IPSliceRange{Min: sc.IPSlice.Min, Max: sc.IPSlice.Max, Mode: sender.PortVariationMode(sc.IPSlice.Mode)},
		ForegroundVersion: sc.IPVersion,
		ProbeTemplate:     probeTpl,
	}

	if sc.IPVersion == 4 && len(realIP) == 4 {
		copy(d.SrcIP4[:], realIP)
		copy(d.DstIP4[:], virtualIP)
	}

	return d, nil
}

// cloneAcrossSubnets returns n clones of tpl, one per destination
// subnet (spec.md section 6: "number of destination subnets per side,
// 1-256"). Each clone's destination IP slice is incremented by its
// subnet index relative to tpl's own value, so distinct subnets are
// actually distinct destination addresses; the sender picks among them
// at send time (per-frame variation within a subnet, if configured, is
// then layered on top via Template.SetIPSlice).
func cloneAcrossSubnets(tpl *frame.Template, n int) [][]*frame.Template {
	if n < 1 {
		n = 1
	}
	base := tpl.DstIPSlice.Uint16(tpl.Buf)
	subnets := make([][]*frame.Template, n)
	for i := range subnets {
		c := tpl.Clone()
		if i > 0 {
			c.SetIPSlice(c.DstIPSlice, base+uint16(i))
		}
		subnets[i] = []*frame.Template{c}
	}
	return subnets
}

func parseMAC(s string) ([6]byte, error) {
	var out [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return out, err
	}
	if len(hw) != 6 {
		return out, fmt.Errorf("mac %q is not 6 bytes", s)
	}
	copy(out[:], hw)
	return out, nil
}

func parseIP(s string, ipVersion int) ([]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", s)
	}
	if ipVersion == 4 {
		v4 := ip.To4()
		if v4 == nil {
			return nil, fmt.Errorf("%q is not an IPv4 address", s)
		}
		return v4, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, fmt.Errorf("%q is not an IPv6 address", s)
	}
	return v6, nil
}
