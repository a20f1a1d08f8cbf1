// =============================================================================
// 文件: internal/protocol/version.go
// 描述: 协议版本 - major.minor.patch，主版本不同视为不兼容
// =============================================================================

package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mrcgq/zhc/internal/bitstream"
)

// Version 协议版本
type Version struct {
	Major uint16
	Minor uint8
	Patch uint8
}

// CurrentVersion 当前协议版本
var CurrentVersion = Version{Major: 1, Minor: 0, Patch: 0}

// ParseVersion 解析 "1.2.3" 形式的版本号
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("版本号格式错误: %q", s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("主版本号无效: %q", parts[0])
	}
	minor, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("次版本号无效: %q", parts[1])
	}
	patch, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("修订号无效: %q", parts[2])
	}
	return Version{Major: uint16(major), Minor: uint8(minor), Patch: uint8(patch)}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Pack 打包为 uint32: major<<16 | minor<<8 | patch
func (v Version) Pack() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8 | uint32(v.Patch)
}

// UnpackVersion Pack 的逆操作
func UnpackVersion(x uint32) Version {
	return Version{Major: uint16(x >> 16), Minor: uint8(x >> 8), Patch: uint8(x)}
}

// Compatible 主版本一致即兼容
func (v Version) Compatible(o Version) bool {
	return v.Major == o.Major
}

func (v *Version) serialize(s bitstream.Stream) error {
	major, minor, patch := uint32(v.Major), uint32(v.Minor), uint32(v.Patch)
	if err := s.SerializeInt(&major, 0, 0xFFFF); err != nil {
		return err
	}
	if err := s.SerializeInt(&minor, 0, 0xFF); err != nil {
		return err
	}
	if err := s.SerializeInt(&patch, 0, 0xFF); err != nil {
		return err
	}
	v.Major, v.Minor, v.Patch = uint16(major), uint8(minor), uint8(patch)
	return nil
}
