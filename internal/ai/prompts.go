package ai

// extractionPrompt instructs a model to return statement transactions as JSON.
const extractionPrompt = `You are a parser for M-Pesa and similar mobile-money statement messages.

Task:
- Extract EVERY transaction from the text below.
- Output STRICT JSON only: an object {"transactions": [...]}.
- Do NOT wrap the response in code fences or add any other text.

Each transaction object must have these fields:
- "date": string, "YYYY-MM-DD" (statement dates are day/month/year)
- "time": string, 24-hour "HH:MM", or "" if absent
- "amount": string, digits with optional decimal point, no currency and no thousands separators
- "direction": one of "received", "sent", "paybill", "till", "withdrawal", "deposit", "airtime"
- "counterparty": string, the other party's name exactly as written, or ""
- "phone": string or null
- "reference": string, the transaction code (e.g. "QAB1CD2EF3"), or ""
- "account": string, paybill account or agent number, or ""
- "raw_text": string, the source message this transaction came from
- "confidence": number between 0 and 1, lower it when you had to guess a field

Rules:
- Never invent transactions that are not in the text.
- Ignore balance and fee lines; they are not transactions.

Text:
`

// ocrPrompt asks for a verbatim transcription of a statement screenshot.
const ocrPrompt = `Transcribe all text in this image of mobile-money statement messages.
Output one message per line, exactly as written, with no commentary.`
