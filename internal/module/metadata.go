// metadata.go - 模块元数据块
//
// 元数据是自由格式的辅助信息，不参与校验和，用 CBOR 编码
// 以便向后兼容地增删字段。

package module

import "github.com/fxamacker/cbor/v2"

// Metadata 模块元数据
type Metadata struct {
	Name       string `cbor:"name"`        // 模块名
	SourceHash uint64 `cbor:"source_hash"` // 源字节码内容哈希
	Toolchain  string `cbor:"toolchain"`   // 生成工具链版本
	CreatedAt  int64  `cbor:"created_at"`  // 生成时间（Unix 秒）
}

// encodeMetadata 编码元数据块
func encodeMetadata(meta *Metadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return cbor.Marshal(meta)
}

// decodeMetadata 解码元数据块
func decodeMetadata(data []byte) (*Metadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(Metadata)
	if err := cbor.Unmarshal(data, meta); err != nil {
		return nil, &FormatError{Field: "metadata", Detail: err.Error()}
	}
	return meta, nil
}
