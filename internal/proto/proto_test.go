package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCode(t *testing.T) {
	assert.Equal(t, CodeSendToken, ParseCode("send_token"))
	assert.Equal(t, CodeSendExports, ParseCode("send_exports"))
	assert.Equal(t, CodeUnknown, ParseCode("HELLO"))
	assert.Equal(t, CodeUnknown, ParseCode("run_app"))
}

func TestUnknownCodeDecodes(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"message_type":"control","code":"shrug"}`), &m))
	assert.Equal(t, Control, m.Type)
	assert.Equal(t, CodeUnknown, m.Code)
}

func TestAnnouncementPayload(t *testing.T) {
	msg, err := Announce(TaskAnnouncement{TaskName: "Weather", TaskDescription: "d", TaskContext: "type A = B;\n"})
	require.NoError(t, err)
	assert.True(t, msg.Is(CodeTask))

	var raw map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &raw))
	assert.Equal(t, map[string]string{"task_name": "Weather", "task_description": "d", "task_context": "type A = B;\n"}, raw)

	got, err := DecodeAnnouncement(msg)
	require.NoError(t, err)
	assert.Equal(t, "Weather", got.TaskName)

	_, err = DecodeAnnouncement(Hello())
	assert.Error(t, err)
}

func TestTokenMessage(t *testing.T) {
	m := Token("secret")
	assert.True(t, m.Is(CodeOK))
	assert.Equal(t, []byte("secret"), m.Data)
	assert.False(t, NewPipe(nil).Is(CodeOK))
}
