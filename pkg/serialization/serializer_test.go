package serialization

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ThreadID string                 `json:"thread_id" msgpack:"thread_id"`
	Step     int                    `json:"step" msgpack:"step"`
	Values   map[string]interface{} `json:"values" msgpack:"values"`
}

func samplePayload() payload {
	return payload{
		ThreadID: "thread-1",
		Step:     3,
		Values:   map[string]interface{}{"note": "hello", "done": true},
	}
}

func TestSerializer_Default(t *testing.T) {
	s := Default()

	data, err := s.Marshal(samplePayload())
	require.NoError(t, err)

	var out payload
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, samplePayload(), out)
}

func TestSerializer_Pipelines(t *testing.T) {
	codecs := []Codec{MsgpackCodec{}, JSONCodec{}}
	compressions := []Compression{CompressionNone, CompressionGzip, CompressionZstd}

	for _, codec := range codecs {
		for _, compression := range compressions {
			name := codec.Name() + "/" + string(compression)
			t.Run(name, func(t *testing.T) {
				s := New(Config{Codec: codec, Compression: compression})

				data, err := s.Marshal(samplePayload())
				require.NoError(t, err)

				var out payload
				require.NoError(t, s.Unmarshal(data, &out))
				assert.Equal(t, "thread-1", out.ThreadID)
				assert.Equal(t, 3, out.Step)
			})
		}
	}
}

func TestSerializer_Encryption(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	s := New(Config{Compression: CompressionZstd, EncryptKey: key})

	data, err := s.Marshal(samplePayload())
	require.NoError(t, err)

	var out payload
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, "thread-1", out.ThreadID)

	t.Run("wrong key fails", func(t *testing.T) {
		other := make([]byte, 32)
		_, err := rand.Read(other)
		require.NoError(t, err)

		wrong := New(Config{Compression: CompressionZstd, EncryptKey: other})
		var out payload
		assert.Error(t, wrong.Unmarshal(data, &out))
	})

	t.Run("truncated ciphertext fails", func(t *testing.T) {
		var out payload
		assert.Error(t, s.Unmarshal(data[:4], &out))
	})
}

func TestSerializer_CompressionReducesSize(t *testing.T) {
	big := payload{ThreadID: "thread-1", Values: map[string]interface{}{}}
	for i := 0; i < 64; i++ {
		big.Values[string(rune('a'+i%26))+"-repeated"] = "the same repeated string payload over and over again"
	}

	plain := New(Config{Codec: JSONCodec{}})
	compressed := New(Config{Codec: JSONCodec{}, Compression: CompressionZstd})

	plainData, err := plain.Marshal(big)
	require.NoError(t, err)
	compressedData, err := compressed.Marshal(big)
	require.NoError(t, err)

	assert.Less(t, len(compressedData), len(plainData))
}

func TestSerializer_GarbageInput(t *testing.T) {
	s := Default()
	var out payload
	assert.Error(t, s.Unmarshal([]byte("not a valid record"), &out))
}
