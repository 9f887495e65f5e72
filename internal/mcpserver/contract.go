package mcpserver

const formatsURI = "rollcall://file-formats"

// FileFormats describes the files rollcall reads and writes, for LLM
// consumers that inspect or prepare them.
const FileFormats = `# rollcall File Formats

## Enrollment registry (Dataset2.csv)

` + "```" + `csv
RegdNo,Name,ImagePath
007,Bond,dataset/bond_007.jpg
` + "```" + `

1. **Header is mandatory** and names the three columns; column order may vary.
2. **Row order is enrollment order.** Earlier rows win ties during matching.
3. **ImagePath** is relative to the dataset root and uses forward slashes.
   Enrollment writes ` + "`" + `dataset/<name lowercased>_<RegdNo>.<ext>` + "`" + `.
4. A row whose image is missing or holds no face is ignored at recognition time.
5. Standard CSV quoting applies; names may contain commas.

## Attendance log (attendance_output.csv)

` + "```" + `text
007 - Bond,2026-03-01 09:05:07
Unknown_3fa9c1,2026-03-01 09:05:09
` + "```" + `

1. **No header.** One line per recorded sighting, appended, never rewritten.
2. **Label** is ` + "`" + `<RegdNo> - <Name>` + "`" + ` for known people and
   ` + "`" + `Unknown_<6 hex digits>` + "`" + ` otherwise. Unknown fingerprints are not stable
   across sessions.
3. **Timestamp** is local time, ` + "`" + `YYYY-MM-DD HH:MM:SS` + "`" + `, after the **last** comma.
4. Each label appears at most once per recognition session.
`
