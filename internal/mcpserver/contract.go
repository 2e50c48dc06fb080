package mcpserver

// EventSchemaContract describes the JSON events the watcher pushes over the
// local websocket channel. LLM consumers read this before interpreting the
// stream or the subject_status tool output.
const EventSchemaContract = `# A360 Ingestion Event Schema

Every slot transition in the ingestion pipeline is pushed to connected
observers as one JSON object per websocket message.

## Payload

` + "```" + `json
{
  "subjectId": "S004",
  "stage": "COMFY_OUTPUT",
  "image": "A45",
  "status": "STORED",
  "path": "Aging/Male/Caucasian/subject004/TimelineA/S004_A45.png",
  "sha256": "9f2c...",
  "bytes": 1834022,
  "timestamp": "2025-06-01T12:34:56Z"
}
` + "```" + `

## Fields

1. **` + "`" + `subjectId` + "`" + `** – canonical subject ID, always ` + "`" + `S` + "`" + ` plus three or more digits.
2. **` + "`" + `stage` + "`" + `** – pipeline stage. The ingestion watcher always emits ` + "`" + `COMFY_OUTPUT` + "`" + `;
   ` + "`" + `PROMPT_OUTPUT` + "`" + ` and ` + "`" + `ANCHOR` + "`" + ` belong to the prompt-building flow.
3. **` + "`" + `image` + "`" + `** – the age label of the slot, ` + "`" + `A20` + "`" + ` through ` + "`" + `A70` + "`" + ` in steps of five.
4. **` + "`" + `status` + "`" + `** – one of ` + "`" + `WAITING` + "`" + `, ` + "`" + `DETECTED` + "`" + `, ` + "`" + `VALIDATED` + "`" + `, ` + "`" + `INGESTING` + "`" + `,
   ` + "`" + `STORED` + "`" + `, ` + "`" + `ERROR` + "`" + `. Slots move strictly forward; a new source file for an
   already-stored slot restarts the sequence.
5. **` + "`" + `path` + "`" + `** – source path up to ` + "`" + `INGESTING` + "`" + `, canonical path from ` + "`" + `STORED` + "`" + ` on.
   Omitted when empty.
6. **` + "`" + `reason` + "`" + `** – present only on ` + "`" + `ERROR` + "`" + `. Known values:
   - ` + "`" + `corrupt or unreadable source file` + "`" + `
   - ` + "`" + `subject not registered` + "`" + `
   - ` + "`" + `destination conflict` + "`" + `
   - ` + "`" + `registry sync failed` + "`" + `
   - ` + "`" + `move to canonical path failed` + "`" + `
7. **` + "`" + `sha256` + "`" + `** / **` + "`" + `bytes` + "`" + `** – set from ` + "`" + `STORED` + "`" + ` on; checksum and size of the
   canonical file.
8. **` + "`" + `timestamp` + "`" + `** – UTC, RFC 3339.

## Ordering rules

- Events for one slot are strictly ordered: ` + "`" + `DETECTED` + "`" + ` → ` + "`" + `VALIDATED` + "`" + ` →
  ` + "`" + `INGESTING` + "`" + ` → ` + "`" + `STORED` + "`" + `, with ` + "`" + `ERROR` + "`" + ` possible after any of the first three.
- Different slots interleave freely; group by ` + "`" + `subjectId` + "`" + ` + ` + "`" + `image` + "`" + ` before
  reasoning about sequence.
- A ` + "`" + `registry sync failed` + "`" + ` ` + "`" + `ERROR` + "`" + ` can follow a ` + "`" + `STORED` + "`" + ` for the same slot: the
  canonical file is safe on disk, only the workbook row is stale.

## Filename conventions

Source files are classified by name. Accepted forms:

- ` + "`" + `S004_A45_00001_.png` + "`" + ` – preferred; generator suffix after the age label is ignored.
- ` + "`" + `subject004_age045_00008_.png` + "`" + ` – legacy form.
- Extensions: png, jpg, jpeg, webp. Anything else is silently ignored.

Canonical destination is always ` + "`" + `{subjectId}_A{age}.png` + "`" + ` inside the subject's
timeline folder.
`
