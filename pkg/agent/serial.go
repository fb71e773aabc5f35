package agent

import (
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DetectDeviceSerial 探测设备序列号。
// 优先读取 DMI 序列号，其次取第一块物理网卡的 MAC 地址，
// 都拿不到时退化为随机 ID（每次启动都会变化，仅作兜底）。
func DetectDeviceSerial() string {
	if serial := dmiSerial(); serial != "" {
		return serial
	}
	if mac := firstMAC(); mac != "" {
		return "MAC-" + strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
	}

	fallback := "RAND-" + uuid.NewString()
	slog.Warn("无法探测设备序列号，使用随机 ID", "serial", fallback)
	return fallback
}

func dmiSerial() string {
	for _, path := range []string{
		"/sys/class/dmi/id/product_serial",
		"/sys/class/dmi/id/board_serial",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		serial := strings.TrimSpace(string(data))
		// 部分主板把序列号填成占位值
		if serial == "" || strings.EqualFold(serial, "none") || strings.EqualFold(serial, "to be filled by o.e.m.") {
			continue
		}
		return serial
	}
	return ""
}

func firstMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
