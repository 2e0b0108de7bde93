package sqlinline

const QInsertGeneration = `--sql 946e0917-a7c5-439d-8da8-17dbfc37a12d
insert into generations (id, user_id, template_id, source_url, result_url, prompt, settings, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::text, coalesce($7::jsonb, '{}'::jsonb), now())
returning id::text, created_at;
`
