package probe

import (
	"errors"
	"fmt"

	"Go2NetLog/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedRecord is returned when a message cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record")

// Field numbers of the FlowRecord message.
const (
	fieldOwnerID      protowire.Number = 1
	fieldInInterface  protowire.Number = 2
	fieldOutInterface protowire.Number = 3
	fieldSrcAddr      protowire.Number = 4
	fieldSrcPort      protowire.Number = 5
	fieldDstAddr      protowire.Number = 6
	fieldDstPort      protowire.Number = 7
	fieldLength       protowire.Number = 8
	fieldTimestamp    protowire.Number = 9
)

// Field numbers of the Owner message.
const (
	fieldDescID      protowire.Number = 1
	fieldDescName    protowire.Number = 2
	fieldDescPackage protowire.Number = 3
)

// Field number of the repeated element in FlowBatch and OwnerList.
const fieldItems protowire.Number = 1

// MarshalRecord encodes rec as a protobuf FlowRecord message.
func MarshalRecord(rec *model.FlowRecord) []byte {
	return appendRecord(nil, rec)
}

func appendRecord(b []byte, rec *model.FlowRecord) []byte {
	b = appendVarint(b, fieldOwnerID, int64(rec.OwnerID))
	b = appendString(b, fieldInInterface, rec.InInterface)
	b = appendString(b, fieldOutInterface, rec.OutInterface)
	b = appendString(b, fieldSrcAddr, rec.SrcAddr)
	b = appendVarint(b, fieldSrcPort, int64(rec.SrcPort))
	b = appendString(b, fieldDstAddr, rec.DstAddr)
	b = appendVarint(b, fieldDstPort, int64(rec.DstPort))
	b = appendVarint(b, fieldLength, int64(rec.Length))
	b = appendVarint(b, fieldTimestamp, rec.Timestamp)
	return b
}

// UnmarshalRecord decodes a protobuf FlowRecord message. Unknown fields are skipped.
func UnmarshalRecord(b []byte) (model.FlowRecord, error) {
	var rec model.FlowRecord
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldOwnerID, fieldSrcPort, fieldDstPort, fieldLength, fieldTimestamp:
			if typ != protowire.VarintType {
				return skip(num, typ, b)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case fieldOwnerID:
				rec.OwnerID = int(int64(v))
			case fieldSrcPort:
				rec.SrcPort = int(int64(v))
			case fieldDstPort:
				rec.DstPort = int(int64(v))
			case fieldLength:
				rec.Length = int(int64(v))
			case fieldTimestamp:
				rec.Timestamp = int64(v)
			}
			return n, nil
		case fieldInInterface, fieldOutInterface, fieldSrcAddr, fieldDstAddr:
			if typ != protowire.BytesType {
				return skip(num, typ, b)
			}
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case fieldInInterface:
				rec.InInterface = s
			case fieldOutInterface:
				rec.OutInterface = s
			case fieldSrcAddr:
				rec.SrcAddr = s
			case fieldDstAddr:
				rec.DstAddr = s
			}
			return n, nil
		default:
			return skip(num, typ, b)
		}
	})
	if err != nil {
		return model.FlowRecord{}, err
	}
	return rec, nil
}

// MarshalBatch encodes records as a FlowBatch message.
func MarshalBatch(records []model.FlowRecord) []byte {
	var b []byte
	for i := range records {
		b = protowire.AppendTag(b, fieldItems, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRecord(nil, &records[i]))
	}
	return b
}

// UnmarshalBatch decodes a FlowBatch message.
func UnmarshalBatch(b []byte) ([]model.FlowRecord, error) {
	var records []model.FlowRecord
	err := walkItems(b, func(item []byte) error {
		rec, err := UnmarshalRecord(item)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// MarshalOwners encodes owners as an OwnerList message.
func MarshalOwners(owners []model.OwnerDescriptor) []byte {
	var b []byte
	for _, o := range owners {
		var item []byte
		item = appendVarint(item, fieldDescID, int64(o.ID))
		item = appendString(item, fieldDescName, o.Name)
		item = appendString(item, fieldDescPackage, o.Package)
		b = protowire.AppendTag(b, fieldItems, protowire.BytesType)
		b = protowire.AppendBytes(b, item)
	}
	return b
}

// UnmarshalOwners decodes an OwnerList message.
func UnmarshalOwners(b []byte) ([]model.OwnerDescriptor, error) {
	owners := []model.OwnerDescriptor{}
	err := walkItems(b, func(item []byte) error {
		var o model.OwnerDescriptor
		err := walk(item, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch {
			case num == fieldDescID && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				o.ID = int(int64(v))
				return n, nil
			case (num == fieldDescName || num == fieldDescPackage) && typ == protowire.BytesType:
				s, n := protowire.ConsumeString(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				if num == fieldDescName {
					o.Name = s
				} else {
					o.Package = s
				}
				return n, nil
			default:
				return skip(num, typ, b)
			}
		})
		if err != nil {
			return err
		}
		owners = append(owners, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owners, nil
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walk calls field for every field of a message. field consumes the value and returns its length.
func walk(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedRecord, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, num, err)
		}
		b = b[m:]
	}
	return nil
}

func walkItems(b []byte, item func([]byte) error) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldItems || typ != protowire.BytesType {
			return skip(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		return n, item(v)
	})
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
