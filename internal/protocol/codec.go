// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers are part of the wire contract; never renumber.
const (
	fieldType       protowire.Number = 1
	fieldPipelineID protowire.Number = 2
	fieldSeqNo      protowire.Number = 3

	fieldReqCreate     protowire.Number = 4
	fieldReqModify     protowire.Number = 5
	fieldReqSetChannel protowire.Number = 6

	fieldRspRetCode  protowire.Number = 4
	fieldRspMetadata protowire.Number = 5

	fieldCreateLaunch protowire.Number = 1
	fieldCreateConfig protowire.Number = 2

	fieldModifyConfig protowire.Number = 1

	fieldChannelElement protowire.Number = 1
	fieldChannelID      protowire.Number = 2
)

var ErrMalformed = errors.New("malformed envelope")

// MarshalRequest encodes r in protobuf wire format.
func MarshalRequest(r *Request) []byte {
	var b []byte
	b = appendVarintField(b, fieldType, uint64(r.Type))
	b = appendVarintField(b, fieldPipelineID, uint64(int64(r.PipelineID)))
	b = appendVarintField(b, fieldSeqNo, r.SeqNo)
	if r.Create != nil {
		var sub []byte
		sub = appendStringField(sub, fieldCreateLaunch, r.Create.Launch)
		sub = appendStringField(sub, fieldCreateConfig, r.Create.Config)
		b = appendBytesField(b, fieldReqCreate, sub)
	}
	if r.Modify != nil {
		var sub []byte
		sub = appendStringField(sub, fieldModifyConfig, r.Modify.Config)
		b = appendBytesField(b, fieldReqModify, sub)
	}
	if r.SetChannel != nil {
		var sub []byte
		sub = appendStringField(sub, fieldChannelElement, r.SetChannel.Element)
		sub = appendVarintField(sub, fieldChannelID, uint64(int64(r.SetChannel.ChannelID)))
		b = appendBytesField(b, fieldReqSetChannel, sub)
	}
	return b
}

// UnmarshalRequest decodes a request. Unknown fields are skipped.
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldType && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.Type = RequestType(int32(x))
			return n, nil
		case num == fieldPipelineID && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.PipelineID = int32(x)
			return n, nil
		case num == fieldSeqNo && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.SeqNo = x
			return n, nil
		case num == fieldReqCreate && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			p, err := unmarshalCreate(sub)
			r.Create = p
			return n, err
		case num == fieldReqModify && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			p, err := unmarshalModify(sub)
			r.Modify = p
			return n, err
		case num == fieldReqSetChannel && typ == protowire.BytesType:
			sub, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			p, err := unmarshalSetChannel(sub)
			r.SetChannel = p
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalResponse encodes r in protobuf wire format.
func MarshalResponse(r *Response) []byte {
	var b []byte
	b = appendVarintField(b, fieldType, uint64(r.Type))
	b = appendVarintField(b, fieldPipelineID, uint64(int64(r.PipelineID)))
	b = appendVarintField(b, fieldSeqNo, r.SeqNo)
	b = appendVarintField(b, fieldRspRetCode, uint64(int64(r.RetCode)))
	if len(r.Metadata) > 0 {
		b = appendBytesField(b, fieldRspMetadata, r.Metadata)
	}
	return b
}

// UnmarshalResponse decodes a response or event. Unknown fields are skipped.
func UnmarshalResponse(b []byte) (*Response, error) {
	r := &Response{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldType && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.Type = ResponseType(int32(x))
			return n, nil
		case num == fieldPipelineID && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.PipelineID = int32(x)
			return n, nil
		case num == fieldSeqNo && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.SeqNo = x
			return n, nil
		case num == fieldRspRetCode && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			r.RetCode = int32(x)
			return n, nil
		case num == fieldRspMetadata && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				r.Metadata = append([]byte(nil), x...)
			}
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshalCreate(b []byte) (*CreateParams, error) {
	p := &CreateParams{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case fieldCreateLaunch:
			s, n := protowire.ConsumeString(v)
			p.Launch = s
			return n, nil
		case fieldCreateConfig:
			s, n := protowire.ConsumeString(v)
			p.Config = s
			return n, nil
		}
		return -1, nil
	})
	return p, err
}

func unmarshalModify(b []byte) (*ModifyParams, error) {
	p := &ModifyParams{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num == fieldModifyConfig && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(v)
			p.Config = s
			return n, nil
		}
		return -1, nil
	})
	return p, err
}

func unmarshalSetChannel(b []byte) (*SetChannelParams, error) {
	p := &SetChannelParams{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldChannelElement && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			p.Element = s
			return n, nil
		case num == fieldChannelID && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			p.ChannelID = int32(x)
			return n, nil
		}
		return -1, nil
	})
	return p, err
}

// walk iterates over the fields of b. fn returns the number of bytes it
// consumed from v, or -1 to have the field skipped as unknown.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == -1 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
