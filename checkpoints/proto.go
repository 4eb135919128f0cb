package checkpoints

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// marshalProto encodes a checkpoint as a google.protobuf.Struct. Tensor data
// is packed as little-endian float32 bytes.
func marshalProto(c *Checkpoint) ([]byte, error) {
	weights := make([]interface{}, len(c.StateDict))
	for i, w := range c.StateDict {
		weights[i] = map[string]interface{}{
			"name":  w.Name,
			"shape": intsToList(w.Shape),
			"data":  packFloats(w.Data),
		}
	}

	tags := make([]interface{}, len(c.Metadata.Tags))
	for i, tag := range c.Metadata.Tags {
		tags[i] = tag
	}

	fields := map[string]interface{}{
		"epoch":      c.Epoch,
		"state_dict": weights,
		"metadata": map[string]interface{}{
			"framework":   c.Metadata.Framework,
			"created_at":  c.Metadata.CreatedAt.Format(time.RFC3339Nano),
			"description": c.Metadata.Description,
			"tags":        tags,
		},
	}

	if c.Optimizer != nil {
		state := make([]interface{}, len(c.Optimizer.StateData))
		for i, st := range c.Optimizer.StateData {
			state[i] = map[string]interface{}{
				"name":       st.Name,
				"shape":      intsToList(st.Shape),
				"data":       packFloats(st.Data),
				"state_type": st.StateType,
			}
		}
		params := make(map[string]interface{}, len(c.Optimizer.Parameters))
		for k, v := range c.Optimizer.Parameters {
			params[k] = v
		}
		fields["optimizer"] = map[string]interface{}{
			"type":       c.Optimizer.Type,
			"parameters": params,
			"state_data": state,
		}
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build protobuf struct: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

func unmarshalProto(data []byte) (*Checkpoint, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal protobuf: %w", err)
	}
	fields := s.AsMap()

	epoch, ok := fields["epoch"].(float64)
	if !ok {
		return nil, fmt.Errorf("checkpoint has no epoch")
	}
	c := &Checkpoint{Epoch: int(epoch)}

	weights, _ := fields["state_dict"].([]interface{})
	for i, raw := range weights {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("state_dict entry %d is not a struct", i)
		}
		w := WeightTensor{Name: stringField(m, "name"), Shape: listToInts(m["shape"])}
		var err error
		if w.Data, err = unpackFloats(m["data"]); err != nil {
			return nil, fmt.Errorf("state_dict entry %s: %w", w.Name, err)
		}
		c.StateDict = append(c.StateDict, w)
	}

	if opt, ok := fields["optimizer"].(map[string]interface{}); ok {
		state := &OptimizerState{Type: stringField(opt, "type"), Parameters: map[string]interface{}{}}
		if params, ok := opt["parameters"].(map[string]interface{}); ok {
			state.Parameters = params
		}
		entries, _ := opt["state_data"].([]interface{})
		for i, raw := range entries {
			m, ok := raw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("optimizer state entry %d is not a struct", i)
			}
			st := OptimizerTensor{
				Name:      stringField(m, "name"),
				Shape:     listToInts(m["shape"]),
				StateType: stringField(m, "state_type"),
			}
			var err error
			if st.Data, err = unpackFloats(m["data"]); err != nil {
				return nil, fmt.Errorf("optimizer state %s: %w", st.Name, err)
			}
			state.StateData = append(state.StateData, st)
		}
		c.Optimizer = state
	}

	if meta, ok := fields["metadata"].(map[string]interface{}); ok {
		c.Metadata.Framework = stringField(meta, "framework")
		c.Metadata.Description = stringField(meta, "description")
		if ts := stringField(meta, "created_at"); ts != "" {
			created, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("invalid created_at: %w", err)
			}
			c.Metadata.CreatedAt = created
		}
		if tags, ok := meta["tags"].([]interface{}); ok {
			for _, tag := range tags {
				if s, ok := tag.(string); ok {
					c.Metadata.Tags = append(c.Metadata.Tags, s)
				}
			}
		}
	}

	return c, nil
}

func packFloats(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// unpackFloats reverses packFloats. structpb stores bytes as base64 strings.
func unpackFloats(raw interface{}) ([]float32, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("tensor data is not a byte string")
	}
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tensor data: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor data has %d bytes, not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

func intsToList(xs []int) []interface{} {
	out := make([]interface{}, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func listToInts(raw interface{}) []int {
	list, _ := raw.([]interface{})
	out := make([]int, 0, len(list))
	for _, v := range list {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
